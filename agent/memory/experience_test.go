package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// bagOfWords embeds text as hashed word counts, so texts sharing words land
// close to each other.
type bagOfWords struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

const testDims = 32

func (b *bagOfWords) Name() string    { return "bag-of-words" }
func (b *bagOfWords) Dimensions() int { return testDims }

func (b *bagOfWords) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	b.calls++
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return nil, errors.New("embedding endpoint down")
	}
	vec := make([]float32, testDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%testDims]++
	}
	return vec, nil
}

func (b *bagOfWords) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := b.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newTestExperience(t *testing.T, p *bagOfWords) *Experience {
	t.Helper()
	e, err := NewExperience(DefaultConfig(), p, zap.NewNop())
	require.NoError(t, err)
	return e
}

var loginClick = FailureContext{
	Goal:             "log in to the shop",
	URL:              "https://shop.test/login",
	FailedAction:     `{"action":"click","element_id":"4"}`,
	ExceptionMessage: "element 4 not found",
}

func TestFailureContext_Identity(t *testing.T) {
	same := loginClick
	assert.Equal(t, loginClick.Text(), same.Text())
	assert.Equal(t, loginClick.ID(), same.ID())
	assert.True(t, strings.HasPrefix(loginClick.ID(), "failure_"))
	assert.Len(t, loginClick.ID(), len("failure_")+32)

	other := loginClick
	other.ExceptionMessage = "timeout"
	assert.NotEqual(t, loginClick.ID(), other.ID())
}

func TestExperience_AddFailureIdempotent(t *testing.T) {
	e := newTestExperience(t, &bagOfWords{})
	ctx := context.Background()

	id1, err := e.AddFailure(ctx, loginClick, "refresh", true)
	require.NoError(t, err)
	id2, err := e.AddFailure(ctx, loginClick, "refresh", true)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, loginClick.ID(), id1)
	assert.Equal(t, 1, e.Counts()[FailureCollection])
}

func TestExperience_SearchFailures(t *testing.T) {
	e := newTestExperience(t, &bagOfWords{})
	ctx := context.Background()

	failed := loginClick
	failed.ExceptionMessage = "element 4 detached from dom"
	_, err := e.AddFailure(ctx, loginClick, "refresh", true)
	require.NoError(t, err)
	_, err = e.AddFailure(ctx, failed, "retry", false)
	require.NoError(t, err)

	t.Run("nearest first", func(t *testing.T) {
		got, err := e.SearchFailures(ctx, loginClick, 5, false)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "refresh", got[0].Strategy)
		assert.InDelta(t, 0, got[0].Distance, 1e-5)
		assert.LessOrEqual(t, got[0].Distance, got[1].Distance)
	})

	t.Run("only successful", func(t *testing.T) {
		got, err := e.SearchFailures(ctx, failed, 5, true)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "refresh", got[0].Strategy)
		assert.True(t, got[0].Successful)
		assert.Greater(t, got[0].Distance, float32(0))
	})
}

func TestExperience_EmptyBase(t *testing.T) {
	e := newTestExperience(t, &bagOfWords{})
	got, err := e.SearchFailures(context.Background(), loginClick, 1, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	scenarios, err := e.SearchScenarios(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, scenarios)
}

func TestExperience_EmbeddingFailure(t *testing.T) {
	p := &bagOfWords{}
	e := newTestExperience(t, p)
	ctx := context.Background()

	_, err := e.AddFailure(ctx, loginClick, "refresh", true)
	require.NoError(t, err)

	p.mu.Lock()
	p.fail = true
	p.mu.Unlock()

	other := loginClick
	other.URL = "https://shop.test/cart"
	id, err := e.AddFailure(ctx, other, "retry", true)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, e.Counts()[FailureCollection])

	got, err := e.SearchFailures(ctx, other, 1, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	sid, err := e.AddScenario(ctx, "log in", []string{"click 1"})
	require.NoError(t, err)
	assert.Empty(t, sid)
}

func TestExperience_Scenarios(t *testing.T) {
	e := newTestExperience(t, &bagOfWords{})
	ctx := context.Background()

	steps := []string{
		`{"action":"type","element_id":"1","text":"alice"}`,
		`{"action":"click","element_id":"2"}`,
	}
	id, err := e.AddScenario(ctx, "log in to the shop as alice", steps)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "scenario_"))

	_, err = e.AddScenario(ctx, "find concert tickets in berlin", []string{`{"action":"browse","url":"https://tickets.test"}`})
	require.NoError(t, err)

	got, err := e.SearchScenarios(ctx, "log in to the shop", 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "k is clamped to the collection size")
	assert.Equal(t, "log in to the shop as alice", got[0].Goal)
	assert.Equal(t, steps, got[0].Steps)
	assert.Less(t, got[0].Distance, got[1].Distance)
}

func TestExperience_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.PersistPath = dir

	first, err := NewExperience(cfg, &bagOfWords{}, zap.NewNop())
	require.NoError(t, err)
	_, err = first.AddFailure(context.Background(), loginClick, "go_back", true)
	require.NoError(t, err)

	second, err := NewExperience(cfg, &bagOfWords{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Counts()[FailureCollection])

	got, err := second.SearchFailures(context.Background(), loginClick, 1, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "go_back", got[0].Strategy)
}

func TestExperience_ConcurrentInserts(t *testing.T) {
	e := newTestExperience(t, &bagOfWords{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.AddFailure(context.Background(), loginClick, "refresh", true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, e.Counts()[FailureCollection])
}
