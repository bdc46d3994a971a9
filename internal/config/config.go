package config

import (
	"math/big"
	"os"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/pkg/errors"
)

type Config struct {
	Chain   Chain   `yaml:"chain"`
	Content Content `yaml:"content"`
	Feed    Feed    `yaml:"feed"`
	Server  Server  `yaml:"server"`
}

type Chain struct {
	RPCURL        string `yaml:"rpcUrl"`
	Contract      string `yaml:"contract"`
	PrivateKey    string `yaml:"privateKey"` // empty: read-only
	ChainID       int64  `yaml:"chainId"`
	StartBlock    uint64 `yaml:"startBlock"`
	ScanBlockSpan uint64 `yaml:"scanBlockSpan"`
}

type Content struct {
	Gateway       string        `yaml:"gateway"`
	MemcachedAddr string        `yaml:"memcachedAddr"`
	Timeout       time.Duration `yaml:"timeout"`
}

type Feed struct {
	PageSize      int           `yaml:"pageSize"`
	Concurrency   int           `yaml:"concurrency"`
	PurchaseBatch int           `yaml:"purchaseBatch"`
	SessionIdle   time.Duration `yaml:"sessionIdle"`
}

type Server struct {
	Listen        string        `yaml:"listen"`
	PostgresDsn   string        `yaml:"postgresDsn"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	EnableTrace   bool          `yaml:"enableTrace"`
	TraceEndpoint string        `yaml:"traceEndpoint"`
	EventSource   string        `yaml:"eventSource"` // chain, database
	Indexer       bool          `yaml:"indexer"`
	IndexInterval time.Duration `yaml:"indexInterval"`
}

const (
	EventSourceChain    = "chain"
	EventSourceDatabase = "database"
)

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}

	config.applyDefaults()

	err = config.Validate()
	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Chain.ScanBlockSpan == 0 {
		c.Chain.ScanBlockSpan = 2000
	}
	if c.Content.Gateway == "" {
		c.Content.Gateway = "https://ipfs.io/ipfs/"
	}
	if c.Content.Timeout == 0 {
		c.Content.Timeout = 10 * time.Second
	}
	if c.Feed.PageSize == 0 {
		c.Feed.PageSize = 8
	}
	if c.Feed.Concurrency == 0 {
		c.Feed.Concurrency = 8
	}
	if c.Feed.PurchaseBatch == 0 {
		c.Feed.PurchaseBatch = 64
	}
	if c.Feed.SessionIdle == 0 {
		c.Feed.SessionIdle = 30 * time.Minute
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if c.Server.EventSource == "" {
		c.Server.EventSource = EventSourceChain
	}
	if c.Server.IndexInterval == 0 {
		c.Server.IndexInterval = 15 * time.Second
	}
}

func (c Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpcUrl is required")
	}
	if c.Chain.Contract == "" {
		return errors.New("chain.contract is required")
	}
	if c.Chain.PrivateKey != "" && c.Chain.ChainID == 0 {
		return errors.New("chain.chainId is required when chain.privateKey is set")
	}
	switch c.Server.EventSource {
	case EventSourceChain:
	case EventSourceDatabase:
		if c.Server.PostgresDsn == "" {
			return errors.New("server.postgresDsn is required for the database event source")
		}
	default:
		return errors.Errorf("unknown server.eventSource %q", c.Server.EventSource)
	}
	if c.Server.Indexer && c.Server.PostgresDsn == "" {
		return errors.New("server.postgresDsn is required when the indexer is enabled")
	}
	if c.Server.EnableTrace && c.Server.TraceEndpoint == "" {
		return errors.New("server.traceEndpoint is required when tracing is enabled")
	}
	return nil
}

func (c Chain) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}
