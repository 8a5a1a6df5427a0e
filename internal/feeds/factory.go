package feeds

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/config"
)

// FromConfig materialises the configured price feeds.
func FromConfig(cfg *config.Config, logger zerolog.Logger) ([]Feed, error) {
	out := make([]Feed, 0, len(cfg.Oracle.Sources))
	for _, src := range cfg.Oracle.Sources {
		switch src.Kind {
		case "http", "":
			out = append(out, NewHTTP(HTTPOptions{
				ID:        src.ID,
				Endpoint:  src.Endpoint,
				Timeout:   cfg.Oracle.RequestTimeout,
				UserAgent: cfg.Oracle.UserAgent,
			}, logger))
		case "chainlink":
			out = append(out, NewChainlink(ChainlinkOptions{
				ID:          src.ID,
				RPCURL:      cfg.Ethereum.RPCURL,
				FeedAddress: src.Address,
				Timeout:     cfg.Ethereum.RequestTimeout,
			}, logger))
		case "static":
			out = append(out, NewStatic(src.ID, decimal.NewFromFloat(src.Price)))
		default:
			return nil, fmt.Errorf("unknown feed kind %q for source %q", src.Kind, src.ID)
		}
	}
	return out, nil
}
