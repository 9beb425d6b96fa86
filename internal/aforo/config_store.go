package aforo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ConfigStore persists per-dataset site configuration as JSON columns,
// one row per dataset.
type ConfigStore struct {
	db *sql.DB
}

// NewConfigStore creates a new ConfigStore.
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Save upserts a dataset's configuration. BaseMs and Meta live on the
// dataset row and are not written here.
func (s *ConfigStore) Save(datasetID string, cfg *DatasetConfig) error {
	accessesJSON, err := json.Marshal(cfg.Accesses)
	if err != nil {
		return fmt.Errorf("failed to marshal accesses: %w", err)
	}
	rules := cfg.Rules
	if rules == nil {
		rules = RuleMap{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	settingsJSON, err := json.Marshal(cfg.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	forbiddenJSON, err := json.Marshal(cfg.Forbidden)
	if err != nil {
		return fmt.Errorf("failed to marshal forbidden movements: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO dataset_configs (dataset_id, accesses_json, rules_json, settings_json, forbidden_json, updated_at)
		VALUES (?, ?, ?, ?, ?, UNIXEPOCH('subsec'))
		ON CONFLICT (dataset_id) DO UPDATE SET
			accesses_json = excluded.accesses_json,
			rules_json = excluded.rules_json,
			settings_json = excluded.settings_json,
			forbidden_json = excluded.forbidden_json,
			updated_at = excluded.updated_at
	`, datasetID, string(accessesJSON), string(rulesJSON), string(settingsJSON), string(forbiddenJSON))
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Load returns a dataset's stored configuration. A dataset without a
// config row reports ErrConfigIncomplete; the caller fills BaseMs and
// Meta from the dataset row.
func (s *ConfigStore) Load(datasetID string) (*DatasetConfig, error) {
	var accessesJSON, rulesJSON, settingsJSON, forbiddenJSON string
	err := s.db.QueryRow(`
		SELECT accesses_json, rules_json, settings_json, forbidden_json
		FROM dataset_configs
		WHERE dataset_id = ?
	`, datasetID).Scan(&accessesJSON, &rulesJSON, &settingsJSON, &forbiddenJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dataset %s has no configuration: %w", datasetID, ErrConfigIncomplete)
		}
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := &DatasetConfig{}
	if err := json.Unmarshal([]byte(accessesJSON), &cfg.Accesses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accesses: %w", err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &cfg.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &cfg.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if err := json.Unmarshal([]byte(forbiddenJSON), &cfg.Forbidden); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forbidden movements: %w", err)
	}
	return cfg, nil
}

// Validate reports ErrConfigIncomplete when the configuration cannot
// support an analysis: no usable accesses or an empty movement map.
func (c *DatasetConfig) Validate() error {
	set := NewAccessSet(c.Accesses)
	if err := set.Validate(); err != nil {
		return err
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("no movement rules configured: %w", ErrConfigIncomplete)
	}
	return nil
}
