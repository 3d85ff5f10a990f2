package contextmgr

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agentoven/agentoven/rootcause/internal/config"
)

// Estimator returns the token cost of a piece of content. Implementations
// must be deterministic.
type Estimator interface {
	Estimate(content string) int
}

// CharEstimator approximates tokens as characters divided by a fixed ratio,
// rounded up.
type CharEstimator struct {
	CharsPerToken int
}

func (e CharEstimator) Estimate(content string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 3
	}
	n := utf8.RuneCountInString(content)
	return (n + per - 1) / per
}

// TiktokenEstimator counts tokens with a BPE encoding.
type TiktokenEstimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the cl100k_base encoding.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding: %w", err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (e *TiktokenEstimator) Estimate(content string) int {
	if content == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.enc.Encode(content, nil, nil))
}

// NewEstimator builds the estimator selected by cfg.Estimator.
func NewEstimator(cfg config.ContextConfig) (Estimator, error) {
	switch cfg.Estimator {
	case "", "chars":
		return CharEstimator{CharsPerToken: cfg.CharsPerToken}, nil
	case "tiktoken":
		return NewTiktokenEstimator()
	default:
		return nil, fmt.Errorf("unknown token estimator %q", cfg.Estimator)
	}
}
