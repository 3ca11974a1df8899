package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// resolveResult reads the payload of a cleanly exited job: the declared
// artifact when there is one, stdout otherwise.
func resolveResult(artifact string, stdout []byte) (json.RawMessage, error) {
	if artifact != "" {
		data, err := os.ReadFile(artifact)
		if err != nil {
			return nil, fmt.Errorf("reading result artifact: %w", err)
		}
		return parsePayload(data, artifact)
	}
	return parsePayload(stdout, "stdout")
}

// parsePayload accepts either a document which is JSON as a whole, or output
// whose last non-empty line is a single JSON value. The latter lets children
// print progress before the result.
func parsePayload(data []byte, source string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s: empty result", source)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(bytes.Clone(trimmed)), nil
	}

	last := trimmed
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		last = bytes.TrimSpace(trimmed[i+1:])
	}
	if json.Valid(last) {
		return json.RawMessage(bytes.Clone(last)), nil
	}

	mtype := mimetype.Detect(data)
	return nil, fmt.Errorf("%s: no JSON result found in %d bytes of %s", source, len(data), mtype.String())
}
