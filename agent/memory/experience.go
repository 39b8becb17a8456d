package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BaSui01/webpilot/llm/embedding"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// Collection names of the two case bases.
const (
	ScenarioCollection = "successful_scenarios"
	FailureCollection  = "failure_knowledge_base"
)

const (
	metaStrategy   = "recovery_strategy"
	metaSuccessful = "successful"
	metaGoal       = "goal"
	metaSteps      = "steps"
)

// Config 经验记忆配置
type Config struct {
	// PersistPath 为空时只保存在内存中
	PersistPath    string  `yaml:"persist_path" env:"PERSIST_PATH"`
	ReuseThreshold float32 `yaml:"reuse_threshold" env:"REUSE_THRESHOLD"`
	CacheSize      int     `yaml:"cache_size" env:"CACHE_SIZE"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{ReuseThreshold: 0.2, CacheSize: 1024}
}

// FailureContext identifies a failed action.
type FailureContext struct {
	Goal             string `json:"goal"`
	URL              string `json:"url"`
	FailedAction     string `json:"failed_action"`
	ExceptionMessage string `json:"exception_message"`
}

// Text is the deterministic document form of the context.
func (fc FailureContext) Text() string {
	return fmt.Sprintf("goal: %s\nurl: %s\nfailed_action: %s\nerror: %s",
		fc.Goal, fc.URL, fc.FailedAction, fc.ExceptionMessage)
}

// ID is the content-hash identity of the context.
func (fc FailureContext) ID() string {
	return "failure_" + hashHex(fc.Text())
}

// FailureMatch is one neighbour from the failure base.
type FailureMatch struct {
	ID         string  `json:"id"`
	Strategy   string  `json:"recovery_strategy"`
	Successful bool    `json:"successful"`
	Distance   float32 `json:"distance"`
}

// ScenarioMatch is one neighbour from the scenario base.
type ScenarioMatch struct {
	Goal     string   `json:"goal"`
	Steps    []string `json:"steps"`
	Distance float32  `json:"distance"`
}

// Experience owns both case bases. It is safe for concurrent use.
type Experience struct {
	db        *chromem.DB
	scenarios *chromem.Collection
	failures  *chromem.Collection
	provider  embedding.Provider
	logger    *zap.Logger
}

// NewExperience opens (or creates) the case bases. Vectors are produced by
// provider; it is wrapped in an LRU cache unless it already is one.
func NewExperience(cfg Config, provider embedding.Provider, logger *zap.Logger) (*Experience, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if provider == nil {
		return nil, fmt.Errorf("experience memory: embedding provider is required")
	}
	if _, ok := provider.(*embedding.CachedProvider); !ok {
		cached, err := embedding.NewCachedProvider(provider, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		provider = cached
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistPath, "chromem"), false)
		if err != nil {
			return nil, fmt.Errorf("open persistent memory: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return provider.EmbedQuery(ctx, text)
	}

	scenarios, err := db.GetOrCreateCollection(ScenarioCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ScenarioCollection, err)
	}
	failures, err := db.GetOrCreateCollection(FailureCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", FailureCollection, err)
	}

	return &Experience{
		db:        db,
		scenarios: scenarios,
		failures:  failures,
		provider:  provider,
		logger:    logger.With(zap.String("component", "experience_memory")),
	}, nil
}

// embed returns false when the provider failed; the failure is logged.
func (e *Experience) embed(ctx context.Context, op, text string) ([]float32, bool) {
	vec, err := e.provider.EmbedQuery(ctx, text)
	if err != nil || len(vec) == 0 {
		e.logger.Warn("embedding failed", zap.String("op", op), zap.Error(err))
		return nil, false
	}
	return vec, true
}

// AddFailure records how a failure was handled. Inserting the same context
// twice leaves one record. An empty id with a nil error means the embedding
// could not be computed and nothing was stored.
func (e *Experience) AddFailure(ctx context.Context, fc FailureContext, strategy string, successful bool) (string, error) {
	text := fc.Text()
	vec, ok := e.embed(ctx, "add_failure", text)
	if !ok {
		return "", nil
	}

	id := fc.ID()
	err := e.failures.AddDocument(ctx, chromem.Document{
		ID:      id,
		Content: text,
		Metadata: map[string]string{
			metaStrategy:   strategy,
			metaSuccessful: strconv.FormatBool(successful),
		},
		Embedding: vec,
	})
	if err != nil {
		return "", fmt.Errorf("add failure record: %w", err)
	}
	e.logger.Debug("failure recorded", zap.String("id", id), zap.String("strategy", strategy))
	return id, nil
}

// SearchFailures returns up to k neighbours of fc ordered by ascending
// cosine distance.
func (e *Experience) SearchFailures(ctx context.Context, fc FailureContext, k int, onlySuccessful bool) ([]FailureMatch, error) {
	var where map[string]string
	if onlySuccessful {
		where = map[string]string{metaSuccessful: "true"}
	}
	results, err := e.query(ctx, e.failures, "search_failures", fc.Text(), k, where)
	if err != nil {
		return nil, err
	}

	matches := make([]FailureMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, FailureMatch{
			ID:         r.ID,
			Strategy:   r.Metadata[metaStrategy],
			Successful: r.Metadata[metaSuccessful] == "true",
			Distance:   1 - r.Similarity,
		})
	}
	return matches, nil
}

// AddScenario stores the action sequence that reached goal.
func (e *Experience) AddScenario(ctx context.Context, goal string, steps []string) (string, error) {
	var b strings.Builder
	b.WriteString("goal: " + goal)
	for _, s := range steps {
		b.WriteString("\nstep: " + s)
	}
	doc := b.String()

	vec, ok := e.embed(ctx, "add_scenario", doc)
	if !ok {
		return "", nil
	}

	encoded, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	id := "scenario_" + hashHex(doc)
	err = e.scenarios.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   doc,
		Metadata:  map[string]string{metaGoal: goal, metaSteps: string(encoded)},
		Embedding: vec,
	})
	if err != nil {
		return "", fmt.Errorf("add scenario: %w", err)
	}
	e.logger.Info("scenario recorded", zap.String("id", id), zap.Int("steps", len(steps)))
	return id, nil
}

// SearchScenarios returns up to k scenarios whose goals resemble goal.
func (e *Experience) SearchScenarios(ctx context.Context, goal string, k int) ([]ScenarioMatch, error) {
	results, err := e.query(ctx, e.scenarios, "search_scenarios", goal, k, nil)
	if err != nil {
		return nil, err
	}

	matches := make([]ScenarioMatch, 0, len(results))
	for _, r := range results {
		var steps []string
		if raw := r.Metadata[metaSteps]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &steps); err != nil {
				e.logger.Warn("corrupt scenario steps", zap.String("id", r.ID), zap.Error(err))
			}
		}
		matches = append(matches, ScenarioMatch{
			Goal:     r.Metadata[metaGoal],
			Steps:    steps,
			Distance: 1 - r.Similarity,
		})
	}
	return matches, nil
}

func (e *Experience) query(ctx context.Context, c *chromem.Collection, op, text string, k int, where map[string]string) ([]chromem.Result, error) {
	if k <= 0 {
		k = 1
	}
	if n := c.Count(); n == 0 {
		return nil, nil
	} else if k > n {
		k = n
	}
	// 先单独计算向量，嵌入失败时返回空结果而不是错误；查询本身命中缓存
	if _, ok := e.embed(ctx, op, text); !ok {
		return nil, nil
	}
	results, err := c.Query(ctx, text, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return results, nil
}

// Counts reports the size of each case base.
func (e *Experience) Counts() map[string]int {
	return map[string]int{
		ScenarioCollection: e.scenarios.Count(),
		FailureCollection:  e.failures.Count(),
	}
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}
