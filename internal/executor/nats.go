package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/chimeralabs/chimerad/internal/task"
)

// SkillSubjectPrefix is the NATS subject prefix skill workers listen on. A
// kind's invocations go to SkillSubjectPrefix + "." + kind.
const SkillSubjectPrefix = "chimera.skills"

// SkillSubject returns the request subject for a kind.
func SkillSubject(kind task.Kind) string {
	return fmt.Sprintf("%s.%s", SkillSubjectPrefix, kind)
}

// NATSExecutor invokes an out-of-process skill worker over NATS
// request/reply. The invocation is sent as JSON; the worker replies with a
// JSON task.Result.
//
// Transport failures (no responder, timeout) are returned as errors and left
// to the retry layer to translate; executor-observed failures arrive inside
// the reply's result like any other outcome.
type NATSExecutor struct {
	conn    *nats.Conn
	subject string
}

// NewNATSExecutor creates an executor requesting on the kind's skill subject.
func NewNATSExecutor(conn *nats.Conn, kind task.Kind) *NATSExecutor {
	return &NATSExecutor{conn: conn, subject: SkillSubject(kind)}
}

// Execute implements Executor.
func (e *NATSExecutor) Execute(ctx context.Context, inv Invocation) (task.Result, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return task.Result{}, fmt.Errorf("marshal invocation %s: %w", inv.TaskID, err)
	}

	msg, err := e.conn.RequestWithContext(ctx, e.subject, data)
	if err != nil {
		return task.Result{}, fmt.Errorf("request %s: %w", e.subject, err)
	}

	var res task.Result
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return task.Result{}, fmt.Errorf("decode reply from %s: %w", e.subject, err)
	}
	return res, nil
}
