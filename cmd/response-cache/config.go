package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/response-cache/response-cache/core"
)

// FileConfig is the YAML configuration file schema.
type FileConfig struct {
	Listen string `yaml:"listen"`
	Origin string `yaml:"origin"`
	Cache  struct {
		Provider            string   `yaml:"provider"`
		Max                 int      `yaml:"max"`
		Size                int64    `yaml:"size"`
		TTL                 *int64   `yaml:"ttl"` // milliseconds, 0 stores without expiration
		AllowStale          bool     `yaml:"allowStale"`
		CacheGetTimeoutInMs int64    `yaml:"cacheGetTimeoutInMs"`
		RemoteConfig        struct { // connection string or cluster node list
			Addr         string   `yaml:"addr"`
			ClusterAddrs []string `yaml:"clusterAddrs"`
			Namespace    string   `yaml:"namespace"`
			Username     string   `yaml:"username"`
			Password     string   `yaml:"password"`
		} `yaml:"remoteConfig"`
		SQLitePath              string   `yaml:"sqlitePath"`
		CacheHeaders            bool     `yaml:"cacheHeaders"`
		CacheHeadersAllowList   []string `yaml:"cacheHeadersAllowList"`
		CacheHeadersDenyList    []string `yaml:"cacheHeadersDenyList"`
		CacheAuthorizedRequests bool     `yaml:"cacheAuthorizedRequests"`
		CacheableRoutes         []string `yaml:"cacheableRoutes"`
		GraphQLEndpoint         string   `yaml:"graphqlEndpoint"`
		SensitiveFields         []string `yaml:"sensitiveFields"`
	} `yaml:"cache"`
}

func loadFileConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// coreConfig translates the file schema into the validated core config,
// starting from defaults so absent fields keep safe values.
func (fc FileConfig) coreConfig() core.Config {
	cfg := core.DefaultConfig()
	c := fc.Cache
	if c.Provider != "" {
		cfg.Provider = c.Provider
	}
	if c.Max != 0 {
		cfg.Max = c.Max
	}
	if c.Size != 0 {
		cfg.Size = c.Size
	}
	// a pointer keeps an explicit ttl of zero apart from an absent field
	if c.TTL != nil {
		cfg.TTL = time.Duration(*c.TTL) * time.Millisecond
	}
	if c.CacheGetTimeoutInMs != 0 {
		cfg.CacheGetTimeout = time.Duration(c.CacheGetTimeoutInMs) * time.Millisecond
	}
	cfg.AllowStale = c.AllowStale
	cfg.Remote = core.RemoteSettings{
		Addr:         c.RemoteConfig.Addr,
		ClusterAddrs: c.RemoteConfig.ClusterAddrs,
		Namespace:    c.RemoteConfig.Namespace,
		Username:     c.RemoteConfig.Username,
		Password:     c.RemoteConfig.Password,
	}
	cfg.SQLitePath = c.SQLitePath
	cfg.CacheHeaders = c.CacheHeaders
	cfg.CacheHeadersAllowList = c.CacheHeadersAllowList
	cfg.CacheHeadersDenyList = c.CacheHeadersDenyList
	cfg.CacheAuthorizedRequests = c.CacheAuthorizedRequests
	cfg.CacheableRoutes = c.CacheableRoutes
	if c.GraphQLEndpoint != "" {
		cfg.GraphQLEndpoint = c.GraphQLEndpoint
	}
	cfg.SensitiveFields = c.SensitiveFields
	return cfg
}
