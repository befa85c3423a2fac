package drawings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Export writes every saved tag to path as one JSON object of tag → drawings.
func Export(ctx context.Context, store Store, path string) error {
	tags, err := store.Tags(ctx)
	if err != nil {
		return err
	}

	all := make(map[string]json.RawMessage, len(tags))
	for _, tag := range tags {
		body, found, err := store.Load(ctx, tag)
		if err != nil {
			return err
		}
		if found {
			all[tag] = body
		}
	}

	data, err := json.MarshalIndent(all, "", "    ")
	if err != nil {
		return fmt.Errorf("encode drawings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write drawings file: %w", err)
	}
	return nil
}

// Import reads a file written by Export and saves each tag, replacing
// existing drawings under the same tag. It returns how many tags were saved.
func Import(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the user
	if err != nil {
		return 0, fmt.Errorf("read drawings file: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidDrawings, path, err)
	}

	n := 0
	for tag, body := range all {
		if err := store.Save(ctx, tag, body); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
