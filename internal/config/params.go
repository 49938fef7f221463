package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Params are the tunable business parameters of the pipeline. Thresholds
// are configuration, not hard-coded business law; the defaults below are
// the documented baseline.
type Params struct {
	Matching MatchingParams `mapstructure:"matching"`
	Royalty  RoyaltyParams  `mapstructure:"royalty"`
}

type MatchingParams struct {
	FuzzyFloor          float64 `mapstructure:"fuzzyFloor"`
	FuzzyConfirm        float64 `mapstructure:"fuzzyConfirm"`
	SemanticConfirm     float64 `mapstructure:"semanticConfirm"`
	SemanticReviewFloor float64 `mapstructure:"semanticReviewFloor"`
	CandidateLimit      int     `mapstructure:"candidateLimit"`
	LookupTimeoutMS     int     `mapstructure:"lookupTimeoutMs"`
	LookupMaxAttempts   int     `mapstructure:"lookupMaxAttempts"`
	WorkerCount         int     `mapstructure:"workerCount"`
	ClaimBatchSize      int     `mapstructure:"claimBatchSize"`
}

type RoyaltyParams struct {
	PublishableConfidence float64 `mapstructure:"publishableConfidence"`
	WithholdingRate       string  `mapstructure:"withholdingRate"`
	AllowNegativeNet      bool    `mapstructure:"allowNegativeNet"`
	CalcConcurrency       int     `mapstructure:"calcConcurrency"`
	AbortErrorThreshold   int     `mapstructure:"abortErrorThreshold"`
}

func DefaultParams() Params {
	return Params{
		Matching: MatchingParams{
			FuzzyFloor:          0.4,
			FuzzyConfirm:        0.85,
			SemanticConfirm:     0.85,
			SemanticReviewFloor: 0.75,
			CandidateLimit:      5,
			LookupTimeoutMS:     2000,
			LookupMaxAttempts:   3,
			WorkerCount:         4,
			ClaimBatchSize:      50,
		},
		Royalty: RoyaltyParams{
			PublishableConfidence: 0.8,
			WithholdingRate:       "0.15",
			AllowNegativeNet:      false,
			CalcConcurrency:       4,
			AbortErrorThreshold:   25,
		},
	}
}

// ParamsHolder exposes the current Params and hot-reloads them when the
// config file changes on disk.
type ParamsHolder struct {
	current atomic.Value // holds Params
}

func NewParamsHolder() (*ParamsHolder, error) {
	v := viper.New()

	v.SetConfigName("accord")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/accord")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ACCORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setParamDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	holder := &ParamsHolder{}
	params, err := unmarshalParams(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(params)

	v.OnConfigChange(func(_ fsnotify.Event) {
		reloaded, err := unmarshalParams(v)
		if err != nil {
			log.Printf("accord config reload failed: %v", err)
			return
		}
		holder.current.Store(reloaded)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticParams wraps a fixed parameter set, bypassing file watching.
func NewStaticParams(params Params) *ParamsHolder {
	clampParams(&params)
	holder := &ParamsHolder{}
	holder.current.Store(params)
	return holder
}

// Current returns the active parameter set.
func (h *ParamsHolder) Current() Params {
	return h.current.Load().(Params)
}

func setParamDefaults(v *viper.Viper) {
	defaults := DefaultParams()
	v.SetDefault("matching.fuzzyFloor", defaults.Matching.FuzzyFloor)
	v.SetDefault("matching.fuzzyConfirm", defaults.Matching.FuzzyConfirm)
	v.SetDefault("matching.semanticConfirm", defaults.Matching.SemanticConfirm)
	v.SetDefault("matching.semanticReviewFloor", defaults.Matching.SemanticReviewFloor)
	v.SetDefault("matching.candidateLimit", defaults.Matching.CandidateLimit)
	v.SetDefault("matching.lookupTimeoutMs", defaults.Matching.LookupTimeoutMS)
	v.SetDefault("matching.lookupMaxAttempts", defaults.Matching.LookupMaxAttempts)
	v.SetDefault("matching.workerCount", defaults.Matching.WorkerCount)
	v.SetDefault("matching.claimBatchSize", defaults.Matching.ClaimBatchSize)
	v.SetDefault("royalty.publishableConfidence", defaults.Royalty.PublishableConfidence)
	v.SetDefault("royalty.withholdingRate", defaults.Royalty.WithholdingRate)
	v.SetDefault("royalty.allowNegativeNet", defaults.Royalty.AllowNegativeNet)
	v.SetDefault("royalty.calcConcurrency", defaults.Royalty.CalcConcurrency)
	v.SetDefault("royalty.abortErrorThreshold", defaults.Royalty.AbortErrorThreshold)
}

func unmarshalParams(v *viper.Viper) (Params, error) {
	var params Params
	if err := v.Unmarshal(&params); err != nil {
		return Params{}, err
	}
	clampParams(&params)
	return params, nil
}

func clampParams(p *Params) {
	defaults := DefaultParams()
	if p.Matching.CandidateLimit <= 0 {
		p.Matching.CandidateLimit = defaults.Matching.CandidateLimit
	}
	if p.Matching.LookupTimeoutMS <= 0 {
		p.Matching.LookupTimeoutMS = defaults.Matching.LookupTimeoutMS
	}
	if p.Matching.LookupMaxAttempts <= 0 {
		p.Matching.LookupMaxAttempts = defaults.Matching.LookupMaxAttempts
	}
	if p.Matching.WorkerCount <= 0 {
		p.Matching.WorkerCount = defaults.Matching.WorkerCount
	}
	if p.Matching.ClaimBatchSize <= 0 {
		p.Matching.ClaimBatchSize = defaults.Matching.ClaimBatchSize
	}
	if p.Royalty.CalcConcurrency <= 0 {
		p.Royalty.CalcConcurrency = defaults.Royalty.CalcConcurrency
	}
}
