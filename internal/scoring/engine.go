package scoring

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/vectormath"
	"github.com/mbti-rec/server/pkg/models"
)

// ContentInput is the minimal content a caller asks the engine to score.
type ContentInput struct {
	ContentID   int64
	Title       string
	Text        string
	ContentType string
}

// Engine scores content into an MBTIVector according to the process-wide
// Mode, with an at-most-once-per-id guarantee and paced sub-batching for
// bulk scoring runs (§4.4). Grounded on mbti_service.py's evaluate_content_mbti
// (single-item path) and its batch_evaluate counterparts (sub-batch pacing),
// adapted to Go's goroutine/channel idiom the way the teacher's
// internal/services worker channels are shaped.
type Engine struct {
	cfg    config.ScoringConfig
	llm    *llmClient
	store  *store.Store
	logger *logrus.Logger
	mode   *modeSwitch
	group  singleflight.Group
}

// NewEngine wires an Engine from the scoring/llm config sections and the
// persistence layer it reads/writes scored vectors through.
func NewEngine(scoringCfg config.ScoringConfig, llmCfg config.LLMConfig, st *store.Store, logger *logrus.Logger) *Engine {
	initial := Mode(scoringCfg.DefaultMode)
	switch initial {
	case ModeAI, ModeRandom, ModeMixed:
	default:
		initial = ModeRandom
	}
	return &Engine{
		cfg:    scoringCfg,
		llm:    newLLMClient(llmCfg, logger),
		store:  st,
		logger: logger,
		mode:   newModeSwitch(initial),
	}
}

// GetMode returns the current process-wide scoring mode.
func (e *Engine) GetMode() Mode { return e.mode.Get() }

// SetMode changes the process-wide scoring mode at runtime (§4.4, via C7).
func (e *Engine) SetMode(m Mode) { e.mode.Set(m) }

// mixedCoinSalt separates the per-item coin flip's random stream from
// RandomVector's own draws, so a "tails" mixed-mode result and a pure
// random-mode result for the same content id are independent in principle
// even though both are deterministic.
const mixedCoinSalt = 0x5bd1e995

// mixedModeHeads flips a deterministic per-item fair coin for contentID:
// heads sends the item down the AI path, tails down the random path (§4.4
// "In mixed, a fair coin is flipped per item").
func mixedModeHeads(contentID int64) bool {
	r := rand.New(rand.NewSource(contentID ^ mixedCoinSalt))
	return r.Float64() < 0.5
}

// ScoreContent computes a vector for a single content item under the
// current mode, without touching the store. The returned string names the
// method actually used, for ContentVector.ScoringMode, and the bool reports
// whether the item should be marked scoring_failed.
//
// "mixed" mode flips a fair coin per item: heads takes the AI path, tails
// the random path. An LLM transport failure on the AI path (after retries
// are exhausted) degrades to the neutral vector with scoring_failed=true
// rather than surfacing an error, so a flaky upstream never blocks
// ingestion (§7); only context cancellation propagates as an error.
func (e *Engine) ScoreContent(ctx context.Context, in ContentInput) (models.MBTIVector, string, bool, error) {
	switch e.GetMode() {
	case ModeRandom:
		return RandomVector(in.ContentID), string(ModeRandom), false, nil
	case ModeAI:
		return e.scoreWithLLM(ctx, in)
	case ModeMixed:
		if !mixedModeHeads(in.ContentID) {
			return RandomVector(in.ContentID), string(ModeMixed), false, nil
		}
		v, _, failed, err := e.scoreWithLLM(ctx, in)
		return v, string(ModeMixed), failed, err
	default:
		return RandomVector(in.ContentID), string(ModeRandom), false, nil
	}
}

func (e *Engine) scoreWithLLM(ctx context.Context, in ContentInput) (models.MBTIVector, string, bool, error) {
	cleaned := cleanContent(in.Text)
	if len([]rune(cleaned)) < 10 {
		// mbti_service.py's evaluate_content_mbti returns the neutral
		// distribution outright for content too short to evaluate.
		return models.NeutralVector(), string(ModeAI), false, nil
	}

	resp, err := e.llm.complete(ctx, buildEvaluationPrompt(in.Title, cleaned), e.cfg.MaxRetries)
	if err != nil {
		if ctx.Err() != nil {
			return models.MBTIVector{}, "", false, fmt.Errorf("content %d: %w", in.ContentID, err)
		}
		e.logger.WithError(err).WithField("content_id", in.ContentID).
			Warn("llm transport failed, degrading to neutral vector")
		return models.NeutralVector(), string(ModeAI), true, nil
	}

	vec, matched := parseMBTIResponse(resp)
	if !matched {
		e.logger.WithField("content_id", in.ContentID).
			Warn("llm response did not parse into an mbti vector, degrading to neutral vector")
	}
	return vec, string(ModeAI), !matched, nil
}

func buildEvaluationPrompt(title, content string) string {
	return fmt.Sprintf(`Read the following content and estimate the author's MBTI trait probabilities.
Respond with a single JSON object with exactly these keys: E, I, S, N, T, F, J, P.
Each value is a probability in [0, 1]; each opposing pair (E/I, S/N, T/F, J/P) should sum to approximately 1.
Do not include any text outside the JSON object.

Title: %s
Content: %s`, title, content)
}

// EnsureScored returns the persisted vector for contentID, scoring and
// upserting it first if none exists. Concurrent callers for the same id
// coalesce onto a single in-flight scoring attempt via singleflight, and the
// store is rechecked inside that attempt before scoring runs, so a content
// item is scored and upserted at most once even under concurrent enqueue
// (§4.4's at-most-once-per-id guarantee).
func (e *Engine) EnsureScored(ctx context.Context, in ContentInput) (*models.ContentVector, error) {
	if cv, ok, err := e.store.GetContentVector(ctx, in.ContentID); err != nil {
		return nil, err
	} else if ok {
		return cv, nil
	}

	key := strconv.FormatInt(in.ContentID, 10)
	result, err, _ := e.group.Do(key, func() (interface{}, error) {
		if cv, ok, err := e.store.GetContentVector(ctx, in.ContentID); err != nil {
			return nil, err
		} else if ok {
			return cv, nil
		}

		vec, method, failed, err := e.ScoreContent(ctx, in)
		if err != nil {
			return nil, err
		}

		cv := &models.ContentVector{
			ContentID:     in.ContentID,
			Vector:        vec,
			TypeLabel:     vectormath.TypeLabel(vec),
			Meta:          models.ContentMeta{Title: in.Title, ContentType: in.ContentType},
			ScoringMode:   method,
			ScoringFailed: failed,
		}
		if err := e.store.UpsertContentVector(ctx, cv); err != nil {
			return nil, err
		}
		return cv, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.ContentVector), nil
}

// ScoreBatch scores inputs in sub-batches of cfg.SubBatchSize, up to
// cfg.MaxConcurrency items scored concurrently within a sub-batch, pausing
// at least cfg.InterBatchPause between sub-batches — the pacing shape
// batch_evaluate_content_mbti uses to stay under the upstream LLM's rate
// limits. A failed item is logged and dropped rather than aborting the
// whole batch.
func (e *Engine) ScoreBatch(ctx context.Context, inputs []ContentInput) ([]*models.ContentVector, error) {
	results := make([]*models.ContentVector, 0, len(inputs))

	for start := 0; start < len(inputs); start += e.cfg.SubBatchSize {
		end := start + e.cfg.SubBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		results = append(results, e.scoreSubBatch(ctx, inputs[start:end])...)

		if end < len(inputs) {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(e.cfg.InterBatchPause):
			}
		}
	}
	return results, nil
}

func (e *Engine) scoreSubBatch(ctx context.Context, sub []ContentInput) []*models.ContentVector {
	sem := make(chan struct{}, e.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	out := make([]*models.ContentVector, len(sub))
	errs := make([]error, len(sub))

	for i, in := range sub {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, in ContentInput) {
			defer wg.Done()
			defer func() { <-sem }()
			cv, err := e.EnsureScored(ctx, in)
			out[i] = cv
			errs[i] = err
		}(i, in)
	}
	wg.Wait()

	results := make([]*models.ContentVector, 0, len(sub))
	for i, err := range errs {
		if err != nil {
			e.logger.WithError(err).WithField("content_id", sub[i].ContentID).Error("failed to score content")
			continue
		}
		results = append(results, out[i])
	}
	return results
}
