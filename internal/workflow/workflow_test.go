package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/testutil"
)

type fakeWorkflow struct{}

func (fakeWorkflow) Setup(context.Context) error                      { return nil }
func (fakeWorkflow) Run(context.Context, chan<- Record) error         { return nil }
func (fakeWorkflow) Load(context.Context, <-chan Record) error        { return nil }
func (fakeWorkflow) Teardown(context.Context) (map[string]any, error) { return nil, nil }

func fakeConstructor(Config) (Workflow, error) { return fakeWorkflow{}, nil }

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register("galley.test.alpha", fakeConstructor)
	reg.RegisterWithTimeout("galley.test.beta", fakeConstructor, 5*time.Minute)

	ctor, err := reg.Resolve("galley.test.alpha")
	require.NoError(t, err)
	require.NotNil(t, ctor)

	_, err = reg.Resolve("galley.test.gamma")
	assert.Error(t, err)

	assert.Equal(t, DefaultTimeout, reg.Timeout("galley.test.alpha"))
	assert.Equal(t, 5*time.Minute, reg.Timeout("galley.test.beta"))
	assert.Equal(t, []string{"galley.test.alpha", "galley.test.beta"}, reg.Names())
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("galley.test.alpha", fakeConstructor)
	assert.Panics(t, func() {
		reg.Register("galley.test.alpha", fakeConstructor)
	})
}

func TestResolveRejectsRelativeCommandPath(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("bin/poll-feed")
	assert.Error(t, err)
}

func TestStaticEventsWorkflow(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	ctor, err := reg.Resolve(NameStaticEvents)
	require.NoError(t, err)

	wf, err := ctor(Config{
		Recipe:  &model.Recipe{Slug: "static-demo"},
		Options: map[string]any{"event_titles": []any{"alpha", "beta"}},
		Logger:  testutil.TestLogger(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, wf.Setup(ctx))

	out := make(chan Record, 8)
	require.NoError(t, wf.Run(ctx, out))
	close(out)

	var titles []string
	for rec := range out {
		titles = append(titles, rec["title"].(string))
	}
	assert.Equal(t, []string{"alpha", "beta"}, titles)

	cp, err := wf.Teardown(ctx)
	require.NoError(t, err)
	assert.Empty(t, cp)
}

func TestFeedPollerRequiresFeedURL(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	ctor, err := reg.Resolve(NameFeedPoller)
	require.NoError(t, err)

	_, err = ctor(Config{
		Recipe:  &model.Recipe{Slug: "feed-demo"},
		Options: map[string]any{},
		Logger:  testutil.TestLogger(),
	})
	assert.Error(t, err)
}
