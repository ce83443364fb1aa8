package worker

import (
	"bufio"
	"io"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/pkg/logger"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
)

// maxEventLine bounds a single NDJSON record. Tool results can embed whole
// files, so the ceiling is generous.
const maxEventLine = 10 * 1024 * 1024

// decodeEvents reads newline-delimited JSON Event records from r and calls
// emit for each well-formed one, in order. Malformed lines and events that
// fail shape validation are dropped with a logged warning; a bad record never
// stops the decode loop or reorders later events.
func decodeEvents(r io.Reader, conversationID string, emit func(*entity.Event)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev entity.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("[Worker] undecodable event line for conversation %s dropped: %v", conversationID, err)
			continue
		}
		if err := ev.Validate(); err != nil {
			logger.Warn("[Worker] malformed %q event for conversation %s dropped: %v", ev.Type, conversationID, err)
			continue
		}
		emit(&ev)
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("[Worker] event stream for conversation %s ended: %v", conversationID, err)
	}
}

// drainStderr forwards worker diagnostics to the daemon log.
func drainStderr(conversationID string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4*1024), 256*1024)
	for scanner.Scan() {
		logger.DebugX("worker", "[%s] %s", conversationID, scanner.Text())
	}
}
