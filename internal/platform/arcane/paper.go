package arcane

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// PaperExchange is a dry-run domain.Exchange that fills every swap at a
// fixed rate without touching the relayer. It keys fills by idempotency key
// so resubmissions replay the original output, like the real relayer does.
type PaperExchange struct {
	logger *slog.Logger

	// RateNum/RateDen express the simulated price as a ratio applied to the
	// input amount. The default is 1:1.
	RateNum uint64
	RateDen uint64

	mu    sync.Mutex
	fills map[string]uint64
}

// NewPaperExchange creates a PaperExchange with a 1:1 fill rate.
func NewPaperExchange(logger *slog.Logger) *PaperExchange {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaperExchange{
		logger:  logger.With(slog.String("component", "paper_exchange")),
		RateNum: 1,
		RateDen: 1,
		fills:   make(map[string]uint64),
	}
}

// Quote returns the simulated output for the conversion. A product that
// would not fit in uint64 is ErrOverflow rather than a wrapped value.
func (p *PaperExchange) Quote(_ context.Context, _, _, inputAmount uint64) (uint64, error) {
	if p.RateNum != 0 && inputAmount > math.MaxUint64/p.RateNum {
		return 0, fmt.Errorf("arcane: paper quote %d x %d: %w", inputAmount, p.RateNum, domain.ErrOverflow)
	}
	return inputAmount * p.RateNum / p.RateDen, nil
}

// SubmitSwap records the fill and returns the simulated output. A repeated
// key replays the first fill.
func (p *PaperExchange) SubmitSwap(ctx context.Context, key string, instr domain.SwapInstruction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if output, ok := p.fills[key]; ok {
		return output, nil
	}
	output, err := p.Quote(ctx, instr.InputToken, instr.OutputToken, instr.InputAmount)
	if err != nil {
		return 0, err
	}
	p.fills[key] = output

	p.logger.Info("paper fill",
		slog.String("key", key),
		slog.Uint64("input_amount", instr.InputAmount),
		slog.Uint64("output_amount", output),
	)
	return output, nil
}

var _ domain.Exchange = (*PaperExchange)(nil)
