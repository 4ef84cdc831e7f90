package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"repomind/internal/llm"
)

// modelPricing is USD per 1000 tokens, matched by substring against the
// model name. Unknown models fall back to sonnet pricing.
type pricing struct {
	input  float64
	output float64
}

var modelPricing = []struct {
	match string
	pricing
}{
	{"haiku", pricing{0.001, 0.005}},
	{"opus", pricing{0.015, 0.075}},
	{"sonnet", pricing{0.003, 0.015}},
}

var defaultPricing = pricing{0.003, 0.015}

func pricingFor(model string) pricing {
	for _, p := range modelPricing {
		if strings.Contains(model, p.match) {
			return p.pricing
		}
	}
	return defaultPricing
}

// EstimateCost returns the USD cost of a call at per-1k-token pricing.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p := pricingFor(model)
	return float64(inputTokens)/1000*p.input + float64(outputTokens)/1000*p.output
}

// TokenCounter counts tokens with the cl100k_base encoding. The zero value
// estimates four bytes per token, which is also the fallback when the
// encoding cannot be loaded.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

func (t *TokenCounter) Count(text string) int {
	if t == nil || t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TokenCounter) CountMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += t.Count(m.Role) + t.Count(m.Content)
	}
	return total
}

// UsageRecord is one tracked API call.
type UsageRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	ChatID       string    `json:"chat_id,omitempty"`
}

// ModelUsage aggregates usage for one model.
type ModelUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// UsageSummary aggregates all recorded usage.
type UsageSummary struct {
	InputTokens  int                   `json:"input_tokens"`
	OutputTokens int                   `json:"output_tokens"`
	Cost         float64               `json:"cost"`
	ByModel      map[string]ModelUsage `json:"by_model"`
}

// UsageTracker appends per-call records to monthly JSON files.
type UsageTracker struct {
	dir     string
	counter *TokenCounter
	now     func() time.Time
	log     *zap.Logger
}

func NewUsageTracker(dir string, log *zap.Logger) (*UsageTracker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create usage dir: %w", err)
	}
	return &UsageTracker{
		dir:     dir,
		counter: NewTokenCounter(),
		now:     time.Now,
		log:     log,
	}, nil
}

// WithCounter replaces the token counter. Tests use the estimating zero
// value to avoid loading the encoding.
func (u *UsageTracker) WithCounter(c *TokenCounter) *UsageTracker {
	u.counter = c
	return u
}

// WithClock replaces the time source. Tests pin it.
func (u *UsageTracker) WithClock(now func() time.Time) *UsageTracker {
	u.now = now
	return u
}

// Track counts tokens for one exchange, prices it, and appends the record
// to the current month's file.
func (u *UsageTracker) Track(model, input, output, chatID string) (UsageRecord, error) {
	in := u.counter.Count(input)
	out := u.counter.Count(output)
	rec := UsageRecord{
		Timestamp:    u.now().UTC(),
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         EstimateCost(model, in, out),
		ChatID:       chatID,
	}
	if err := u.append(rec); err != nil {
		return UsageRecord{}, err
	}
	return rec, nil
}

func (u *UsageTracker) monthFile(t time.Time) string {
	return filepath.Join(u.dir, t.Format("2006_01")+"_usage.json")
}

func (u *UsageTracker) append(rec UsageRecord) error {
	path := u.monthFile(rec.Timestamp)
	var records []UsageRecord
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("read usage file: %w", err)
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			u.log.Warn("usage file corrupt, starting fresh", zap.String("path", path), zap.Error(err))
			records = nil
		}
	}
	records = append(records, rec)
	return writeJSON(path, records)
}

func (s *UsageSummary) add(r UsageRecord) {
	s.InputTokens += r.InputTokens
	s.OutputTokens += r.OutputTokens
	s.Cost += r.Cost
	m := s.ByModel[r.Model]
	m.InputTokens += r.InputTokens
	m.OutputTokens += r.OutputTokens
	m.Cost += r.Cost
	s.ByModel[r.Model] = m
}

// Summary aggregates every recorded month.
func (u *UsageTracker) Summary() (UsageSummary, error) {
	sum := UsageSummary{ByModel: map[string]ModelUsage{}}
	matches, err := filepath.Glob(filepath.Join(u.dir, "*_usage.json"))
	if err != nil {
		return sum, err
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			u.log.Warn("skipping unreadable usage file", zap.String("path", path), zap.Error(err))
			continue
		}
		var records []UsageRecord
		if err := json.Unmarshal(data, &records); err != nil {
			u.log.Warn("skipping corrupt usage file", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, r := range records {
			sum.add(r)
		}
	}
	return sum, nil
}

// MonthSummary aggregates the records of the month containing t.
func (u *UsageTracker) MonthSummary(t time.Time) (UsageSummary, error) {
	sum := UsageSummary{ByModel: map[string]ModelUsage{}}
	data, err := os.ReadFile(u.monthFile(t))
	if os.IsNotExist(err) {
		return sum, nil
	}
	if err != nil {
		return sum, err
	}
	var records []UsageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return sum, fmt.Errorf("corrupt usage file: %w", err)
	}
	for _, r := range records {
		sum.add(r)
	}
	return sum, nil
}
