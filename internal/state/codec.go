package state

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/farzad528/azure-openai-on-your-data-migrator/internal/models"
)

//go:embed session.schema.json
var sessionSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(sessionSchema)

// migrations upgrade a raw record from version N to N+1.
var migrations = map[int]func(map[string]any) error{
	1: migrateV1,
}

// Encode serializes a session.
func Encode(sess *models.Session) ([]byte, error) {
	sess.SchemaVersion = models.SchemaVersion
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	return data, nil
}

// Decode parses a stored record, upgrading older schema versions and
// validating the result against the session schema.
func Decode(id string, data []byte) (*models.Session, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &models.SessionCorruptError{ID: id, Reason: "record is not valid JSON", Err: err}
	}
	version, ok := raw["schema_version"].(float64)
	if !ok {
		return nil, &models.SessionCorruptError{ID: id, Reason: "record has no schema_version"}
	}

	v := int(version)
	if v > models.SchemaVersion || v < 1 {
		return nil, &models.SessionCorruptError{ID: id, Reason: fmt.Sprintf("unsupported schema version %d", v)}
	}
	for ; v < models.SchemaVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return nil, &models.SessionCorruptError{ID: id, Reason: fmt.Sprintf("no migration from schema version %d", v)}
		}
		if err := migrate(raw); err != nil {
			return nil, &models.SessionCorruptError{ID: id, Reason: fmt.Sprintf("migration from schema version %d failed", v), Err: err}
		}
		raw["schema_version"] = v + 1
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, &models.SessionCorruptError{ID: id, Reason: "schema validation failed", Err: err}
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &models.SessionCorruptError{ID: id, Reason: strings.Join(problems, "; ")}
	}

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, &models.SessionCorruptError{ID: id, Reason: "re-encoding failed", Err: err}
	}
	var sess models.Session
	if err := json.Unmarshal(upgraded, &sess); err != nil {
		return nil, &models.SessionCorruptError{ID: id, Reason: "record does not match the session layout", Err: err}
	}
	if sess.ID != id {
		return nil, &models.SessionCorruptError{ID: id, Reason: fmt.Sprintf("record belongs to session %q", sess.ID)}
	}
	if sess.StepStates == nil {
		sess.StepStates = map[string]*models.StepRecord{}
	}
	if sess.ProvisioningResults == nil {
		sess.ProvisioningResults = map[string]models.StepResult{}
	}
	if sess.Errors == nil {
		sess.Errors = []models.ErrorRecord{}
	}
	return &sess, nil
}

// migrateV1 upgrades records written before step states and revisions were
// tracked. Steps with a recorded result are marked succeeded.
func migrateV1(raw map[string]any) error {
	if _, ok := raw["version"]; !ok {
		raw["version"] = 1
	}
	states := map[string]any{}
	if results, ok := raw["provisioning_results"].(map[string]any); ok {
		for name, r := range results {
			attempts := 1.0
			if m, ok := r.(map[string]any); ok {
				if n, ok := m["attempt_count"].(float64); ok {
					attempts = n
				}
			}
			states[name] = map[string]any{
				"state":      string(models.StateSucceeded),
				"attempts":   attempts,
				"updated_at": raw["updated_at"],
			}
		}
	}
	raw["step_states"] = states
	return nil
}
