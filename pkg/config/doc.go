// Package config provides configuration management using Viper.
//
// Loads and validates configuration from YAML files with support for
// multiple config locations and default values. It covers the relational
// store, the working-set bound, consolidation cadence, frozen-tier
// thresholds, retriever ranking weights, and the embedding contract.
package config
