package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"firestore-client/internal/config"
	"firestore-client/pkg/firestore"
	"firestore-client/pkg/transport/remote"
)

var (
	emulatorHost string
	projectID    string
	authToken    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&emulatorHost, "emulator", "", "Emulator host:port (FIRESTORE_EMULATOR_HOST)")
	rootCmd.PersistentFlags().StringVar(&projectID, "project", "", "Project id (FIRESTORE_PROJECT_ID)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (FIRESTORE_AUTH_TOKEN)")
}

func loadClientConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, err
	}
	if emulatorHost != "" {
		cfg.EmulatorHost = emulatorHost
	}
	if projectID != "" {
		cfg.ProjectID = projectID
	}
	if authToken != "" {
		cfg.AuthToken = authToken
	}
	return cfg, nil
}

// newRemote connects to the emulator named by the environment and flags.
func newRemote() (*remote.Transport, *config.ClientConfig) {
	cfg, err := loadClientConfig()
	if err != nil {
		fatal("Failed to load client configuration", err)
	}
	t, err := remote.NewFromConfig(cfg, remote.WithLogger(appLogger))
	if err != nil {
		fatal("Failed to create transport", err)
	}
	return t, cfg
}

// newClient returns a client without a snapshot cache: every read goes to the
// emulator.
func newClient(ctx context.Context) *firestore.Client {
	t, cfg := newRemote()
	c, err := firestore.New(ctx, firestore.Config{
		ProjectID:  cfg.ProjectID,
		DatabaseID: cfg.DatabaseID,
		Settings:   &firestore.Settings{Persistence: false},
		Logger:     appLogger,
	}, t)
	if err != nil {
		_ = t.Close()
		fatal("Failed to create client", err)
	}
	return c
}

// snapshotDocument is the printed form of a document snapshot.
func snapshotDocument(s *firestore.DocumentSnapshot) *firestore.Document {
	return &firestore.Document{
		Path:       s.Ref.Path(),
		Fields:     s.Fields(),
		CreateTime: s.CreateTime,
		UpdateTime: s.UpdateTime,
	}
}

func printJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fatal("Error encoding JSON", err)
	}
}

// parseData decodes a JSON object of document fields. Whole numbers become
// integers, other numbers doubles.
func parseData(raw string) (map[string]interface{}, error) {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var data map[string]interface{}
	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("document data must be a JSON object: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("document data must be a JSON object")
	}
	return data, nil
}

// parseWhere reads a filter written as "field op value". The value is JSON when
// it parses as JSON and a plain string otherwise.
func parseWhere(expr string) (string, firestore.Operator, interface{}, error) {
	parts := strings.Fields(expr)
	if len(parts) < 3 {
		return "", "", nil, fmt.Errorf("filter %q must look like 'field op value'", expr)
	}
	field, op := parts[0], firestore.Operator(parts[1])
	rest := strings.TrimSpace(strings.TrimSpace(expr)[len(parts[0]):])
	raw := strings.TrimSpace(rest[len(parts[1]):])

	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var value interface{}
	if err := decoder.Decode(&value); err != nil || decoder.More() {
		return field, op, raw, nil
	}
	return field, op, value, nil
}

// parseOrder reads "field" or "field:asc|desc".
func parseOrder(expr string) (string, firestore.Direction, error) {
	field, dir, found := strings.Cut(expr, ":")
	if !found {
		return field, firestore.Asc, nil
	}
	switch firestore.Direction(strings.ToLower(dir)) {
	case firestore.Asc:
		return field, firestore.Asc, nil
	case firestore.Desc:
		return field, firestore.Desc, nil
	}
	return "", "", fmt.Errorf("order %q: direction must be asc or desc", expr)
}
