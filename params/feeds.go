package params

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// FeedEntry binds an asset to its price feed handle. Answer and Decimals are
// only read when the node runs without an RPC endpoint and serves static
// prices.
type FeedEntry struct {
	Name     string `yaml:"name"`
	Asset    string `yaml:"asset"`
	Feed     string `yaml:"feed"`
	Answer   string `yaml:"answer"`
	Decimals uint8  `yaml:"decimals"`
}

type FeedsFile struct {
	Feeds []FeedEntry `yaml:"feeds"`
}

// AssetAddress returns the parsed asset address.
func (e FeedEntry) AssetAddress() common.Address { return common.HexToAddress(e.Asset) }

// FeedAddress returns the parsed feed handle.
func (e FeedEntry) FeedAddress() common.Address { return common.HexToAddress(e.Feed) }

// AnswerInt parses the static answer. A missing answer yields nil.
func (e FeedEntry) AnswerInt() (*big.Int, error) {
	if e.Answer == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(e.Answer, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("feed %s: invalid answer %q", e.Name, e.Answer)
	}
	return v, nil
}

// LoadFeeds reads the price feed bootstrap file. A missing file is not an
// error and yields no entries.
func LoadFeeds(path string) ([]FeedEntry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds file %s: %w", path, err)
	}
	return ParseFeeds(data)
}

// ParseFeeds decodes and validates a feeds document.
func ParseFeeds(data []byte) ([]FeedEntry, error) {
	var doc FeedsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse feeds file: %w", err)
	}
	for i, e := range doc.Feeds {
		if !common.IsHexAddress(e.Asset) {
			return nil, fmt.Errorf("feed %d (%s): invalid asset address %q", i, e.Name, e.Asset)
		}
		if !common.IsHexAddress(e.Feed) {
			return nil, fmt.Errorf("feed %d (%s): invalid feed address %q", i, e.Name, e.Feed)
		}
		if _, err := e.AnswerInt(); err != nil {
			return nil, err
		}
	}
	return doc.Feeds, nil
}
