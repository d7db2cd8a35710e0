package rules

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/devcheck/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMatchesAnyMarker_EveryDefaultMarker(t *testing.T) {
	e := NewDefaultEngine()
	for _, m := range model.DefaultMarkers() {
		t.Run(m, func(t *testing.T) {
			assert.True(t, e.MatchesAnyMarker(m))
			assert.True(t, e.MatchesAnyMarker("prefix "+m+" suffix"))
		})
	}
}

func TestMatchesAnyMarker_NoMatch(t *testing.T) {
	e := NewDefaultEngine()

	tests := []string{
		"",
		"production build",
		"react.production.min.js",
		"hmr",
		"evaluate(x)",
		"webpack:/ /",
		"Development Build",
		"sourcemappingurl=x",
	}
	for _, text := range tests {
		assert.False(t, e.MatchesAnyMarker(text), "text %q", text)
	}
}

func TestMatchedMarkers_SetOrder(t *testing.T) {
	e := NewDefaultEngine()
	got := e.MatchedMarkers("__DEV__ && eval(x) //# sourceMappingURL=app.js.map")
	assert.Equal(t, []string{"eval(", "sourceMappingURL", "__DEV__"}, got)
}

func TestIsIgnoredURL(t *testing.T) {
	e := NewEngine(model.MarkerSet{"webpack://"}, model.IgnoreSet{"bootstrap.bundle.min.js", "vendor/"})

	assert.True(t, e.IsIgnoredURL("https://cdn.example.com/bootstrap.bundle.min.js"))
	assert.True(t, e.IsIgnoredURL("https://example.com/vendor/lib.js"))
	assert.False(t, e.IsIgnoredURL("https://example.com/app.js"))
	// A URL that contains a marker is not ignored because of it
	assert.False(t, e.IsIgnoredURL("webpack://src/app.js"))
}

func TestNewEngine_CopiesSets(t *testing.T) {
	markers := model.MarkerSet{"HMR"}
	e := NewEngine(markers, nil)
	markers[0] = "something else"

	assert.True(t, e.MatchesAnyMarker("[HMR] connected"))
	assert.Equal(t, model.MarkerSet{"HMR"}, e.Markers())
}

func TestClassifyConsoleLogs(t *testing.T) {
	e := NewDefaultEngine()

	assert.False(t, e.ClassifyConsoleLogs(nil))
	assert.False(t, e.ClassifyConsoleLogs([]string{"Loaded", "", "ready"}))
	assert.True(t, e.ClassifyConsoleLogs([]string{"Loaded", "[HMR] Waiting for update signal from WDS..."}))
	assert.True(t, e.ClassifyConsoleLogs([]string{"Download the React DevTools... You are running a development build"}))
}

func TestFinalVerdict_Monotonic(t *testing.T) {
	assert.False(t, FinalVerdict(false, false, false, false))

	for i := 0; i < 4; i++ {
		in := [4]bool{}
		in[i] = true
		assert.True(t, FinalVerdict(in[0], in[1], in[2], in[3]), "input %d", i)
	}

	// Every combination: true iff at least one input is true
	for mask := 0; mask < 16; mask++ {
		a, b, c, d := mask&1 != 0, mask&2 != 0, mask&4 != 0, mask&8 != 0
		assert.Equal(t, mask != 0, FinalVerdict(a, b, c, d), "mask %04b", mask)
	}
}

func TestEvaluatePagePredicate(t *testing.T) {
	e := NewDefaultEngine()

	assert.False(t, e.EvaluatePagePredicate(model.PageState{}))
	assert.True(t, e.EvaluatePagePredicate(model.PageState{DevToolsHook: true}))
	assert.True(t, e.EvaluatePagePredicate(model.PageState{WebpackScriptTag: true}))
	assert.True(t, e.EvaluatePagePredicate(model.PageState{ReactDevScriptTag: true}))
}

func TestClassifyNetworkResponses_ScenarioA(t *testing.T) {
	e := NewDefaultEngine()

	maps, files := e.ClassifyNetworkResponses([]model.Response{
		model.StaticResponse("https://example.com/app.js", "var x = 1; // webpack://app/src/index.js"),
	})
	assert.False(t, maps)
	assert.True(t, files)

	result := e.Evaluate(context.Background(), model.Observation{
		Responses: []model.Response{
			model.StaticResponse("https://example.com/app.js", "webpack://"),
		},
	})
	assert.True(t, result.Verdict)
	assert.True(t, result.DevFileFound)
	assert.False(t, result.SourceMapFound)
}

func TestClassifyNetworkResponses_ScenarioB_IgnoredNeverLoaded(t *testing.T) {
	e := NewEngine(model.DefaultMarkers(), model.IgnoreSet{"bootstrap.bundle.min.js"})

	loaded := false
	resp := model.Response{
		URL: "https://cdn.example.com/bootstrap.bundle.min.js",
		Content: func() (string, error) {
			loaded = true
			return "eval(", nil
		},
	}

	maps, files := e.ClassifyNetworkResponses([]model.Response{resp})
	assert.False(t, maps)
	assert.False(t, files)
	assert.False(t, loaded, "ignored body must not be inspected")
}

func TestClassifyNetworkResponses_ScenarioF_SourceMaps(t *testing.T) {
	e := NewDefaultEngine()

	maps, _ := e.ClassifyNetworkResponses([]model.Response{
		model.StaticResponse("https://example.com/app.js", "minified"),
		model.StaticResponse("https://example.com/style.css", "body{}"),
	})
	assert.False(t, maps)

	maps, files := e.ClassifyNetworkResponses([]model.Response{
		model.StaticResponse("https://example.com/app.js", "minified"),
		model.StaticResponse("https://example.com/app.js.map", `{"version":3}`),
	})
	assert.True(t, maps)
	assert.False(t, files)
}

func TestClassifyNetworkResponses_SourceMapIgnoresIgnoreList(t *testing.T) {
	e := NewEngine(model.DefaultMarkers(), model.IgnoreSet{"bootstrap.bundle.min.js"})

	maps, files := e.ClassifyNetworkResponses([]model.Response{
		model.FailedResponse("https://cdn.example.com/bootstrap.bundle.min.js.map", errors.New("never loaded")),
	})
	assert.True(t, maps)
	assert.False(t, files)
}

func TestClassifyNetworkResponses_OnlyScriptsAndMapsInspected(t *testing.T) {
	e := NewDefaultEngine()

	_, files := e.ClassifyNetworkResponses([]model.Response{
		model.StaticResponse("https://example.com/", "<html>development build</html>"),
		model.StaticResponse("https://example.com/app.js?v=1", "eval("),
	})
	assert.False(t, files, "HTML documents and query-suffixed URLs are not body-checked")
}

func TestClassifyNetworkResponses_LoadFailureIsNoMatch(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Evaluate(context.Background(), model.Observation{
		Responses: []model.Response{
			model.FailedResponse("https://example.com/a.js", errors.New("no resource with given identifier")),
			model.StaticResponse("https://example.com/b.js", "clean"),
			{URL: "https://example.com/c.js"}, // no accessor
		},
	})
	assert.False(t, result.DevFileFound)
	assert.False(t, result.Verdict)
	assert.Equal(t, 1, result.FetchFailures)
}

func TestClassifyScripts_AlwaysFailingFetcher(t *testing.T) {
	e := NewDefaultEngine()

	fetch := func(ctx context.Context, url string) (string, error) {
		return "", errors.New("TypeError: Failed to fetch")
	}
	assert.False(t, e.ClassifyScripts(context.Background(), []string{"https://a/x.js", "https://a/y.js"}, fetch))
}

func TestClassifyScripts_SkipsEmptyAndIgnored(t *testing.T) {
	e := NewEngine(model.DefaultMarkers(), model.IgnoreSet{"bootstrap.bundle.min.js"})

	var calls atomic.Int32
	fetch := func(ctx context.Context, url string) (string, error) {
		calls.Add(1)
		return "eval(", nil
	}

	found := e.ClassifyScripts(context.Background(), []string{"", "https://cdn/bootstrap.bundle.min.js"}, fetch)
	assert.False(t, found)
	assert.Equal(t, int32(0), calls.Load())
}

func TestClassifyScripts_OneMatchAmongMany(t *testing.T) {
	e := NewDefaultEngine(WithFetchWorkers(2))

	bodies := map[string]string{
		"https://a/1.js": "clean",
		"https://a/2.js": "clean",
		"https://a/3.js": "if (module.hot) webpackHotUpdate()",
		"https://a/4.js": "clean",
	}
	fetch := func(ctx context.Context, url string) (string, error) {
		return bodies[url], nil
	}

	urls := []string{"https://a/1.js", "https://a/2.js", "https://a/3.js", "https://a/4.js"}
	assert.True(t, e.ClassifyScripts(context.Background(), urls, fetch))
}

func TestClassifyScripts_SlowFetchDoesNotBlockOthers(t *testing.T) {
	e := NewDefaultEngine(WithFetchTimeout(50 * time.Millisecond))

	fetch := func(ctx context.Context, url string) (string, error) {
		if strings.Contains(url, "slow") {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "__DEV__", nil
	}

	start := time.Now()
	result := e.Evaluate(context.Background(), model.Observation{
		ScriptURLs: []string{"https://a/slow.js", "https://a/fast.js"},
		Fetch:      fetch,
	})
	require.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, result.DevFileFound)
	assert.Equal(t, 1, result.FetchFailures)
}

func TestClassifyScripts_PanickingFetcher(t *testing.T) {
	e := NewDefaultEngine()

	fetch := func(ctx context.Context, url string) (string, error) {
		panic("boom")
	}
	assert.False(t, e.ClassifyScripts(context.Background(), []string{"https://a/x.js"}, fetch))
}

func TestClassifyScripts_OrderIndependent(t *testing.T) {
	e := NewDefaultEngine(WithFetchWorkers(8))

	fetch := func(ctx context.Context, url string) (string, error) {
		if strings.HasSuffix(url, "dev.js") {
			return "react.development.js", nil
		}
		time.Sleep(5 * time.Millisecond)
		return "clean", nil
	}

	forward := []string{"https://a/dev.js", "https://a/1.js", "https://a/2.js"}
	backward := []string{"https://a/2.js", "https://a/1.js", "https://a/dev.js"}

	r1 := e.Evaluate(context.Background(), model.Observation{ScriptURLs: forward, Fetch: fetch})
	r2 := e.Evaluate(context.Background(), model.Observation{ScriptURLs: backward, Fetch: fetch})
	assert.Equal(t, r1.Verdict, r2.Verdict)
	assert.Equal(t, r1.DevFileFound, r2.DevFileFound)
	assert.Len(t, r1.Findings, 1)
	assert.Len(t, r2.Findings, 1)
}

func TestEvaluate_CleanObservation(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Evaluate(context.Background(), model.Observation{
		URL:         "https://example.com/",
		ConsoleLogs: []string{"app started"},
		Responses: []model.Response{
			model.StaticResponse("https://example.com/main.3f2a.js", "!function(){}()"),
		},
		ScriptURLs: []string{"https://example.com/main.3f2a.js"},
		Fetch: func(ctx context.Context, url string) (string, error) {
			return "!function(){}()", nil
		},
	})

	assert.False(t, result.Verdict)
	assert.False(t, result.TimedOut)
	assert.Empty(t, result.Findings)
}

func TestEvaluate_FindingsPerCheck(t *testing.T) {
	e := NewDefaultEngine()

	result := e.Evaluate(context.Background(), model.Observation{
		URL:         "https://example.com/",
		ConsoleLogs: []string{"[HMR] connected"},
		Responses: []model.Response{
			model.StaticResponse("https://example.com/main.js.map", "{}"),
		},
		Page: model.PageState{DevToolsHook: true},
	})

	require.True(t, result.Verdict)
	assert.True(t, result.DevLogFound)
	assert.True(t, result.SourceMapFound)
	assert.True(t, result.DevByPagePredicate)

	checks := map[model.Check]bool{}
	for _, f := range result.Findings {
		checks[f.Check] = true
	}
	assert.True(t, checks[model.CheckDevLog])
	assert.True(t, checks[model.CheckSourceMap])
	assert.True(t, checks[model.CheckPagePredicate])
}

func TestEvaluate_ConcurrentUse(t *testing.T) {
	e := NewDefaultEngine()

	obs := model.Observation{
		ConsoleLogs: []string{"development build"},
	}

	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func() {
			done <- e.Evaluate(context.Background(), obs).Verdict
		}()
	}
	for i := 0; i < 8; i++ {
		assert.True(t, <-done)
	}
}
