package probes

import (
	"context"
	"encoding/json"
	"fmt"
)

// IDs returns the task UUID and group UUID the framework injected into the
// request context, plus the argument passed through.
func IDs(ctx context.Context, i int64) (string, string, int64, error) {
	sig := requestSignature(ctx)
	return sig.UUID, sig.GroupUUID, i, nil
}

// CollectIDs is the chain callback counterpart of IDs: it forwards the
// previous result alongside this invocation's identifiers.
func CollectIDs(ctx context.Context, res int64, i int64) (int64, string, string, int64, error) {
	sig := requestSignature(ctx)
	return res, sig.UUID, sig.GroupUUID, i, nil
}

// ReturnPriority reports the delivery priority the framework handed us.
func ReturnPriority(ctx context.Context) (string, error) {
	sig := requestSignature(ctx)
	return fmt.Sprintf("Priority: %d", sig.Priority), nil
}

// requestProperties is the serializable view of the request context the
// properties probe reports back.
type requestProperties struct {
	UUID           string `json:"uuid"`
	Name           string `json:"name"`
	RoutingKey     string `json:"routing_key"`
	Priority       uint8  `json:"priority"`
	GroupUUID      string `json:"group_uuid,omitempty"`
	GroupTaskCount int    `json:"group_task_count,omitempty"`
	RetryCount     int    `json:"retry_count,omitempty"`
}

// ReturnProperties returns the delivery properties as JSON so the harness
// can assert the framework populated them.
func ReturnProperties(ctx context.Context) (string, error) {
	sig := requestSignature(ctx)
	b, err := json.Marshal(requestProperties{
		UUID:           sig.UUID,
		Name:           sig.Name,
		RoutingKey:     sig.RoutingKey,
		Priority:       sig.Priority,
		GroupUUID:      sig.GroupUUID,
		GroupTaskCount: sig.GroupTaskCount,
		RetryCount:     sig.RetryCount,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PrintUnicode logs and prints strings containing funny characters,
// exercising encoding through the logging pipeline.
func (s *Suite) PrintUnicode(logMessage, printMessage string) error {
	if logMessage == "" {
		logMessage = "håå®ƒ valmuefrø"
	}
	if printMessage == "" {
		printMessage = "hiöäüß"
	}
	s.log.Plain().WithProbe("print_unicode").Warn(logMessage)
	fmt.Println(printMessage)
	return nil
}

// RedisEcho appends every message to the echo list; error links prepend the
// failure message, so arity stays open.
func (s *Suite) RedisEcho(messages ...string) error {
	ctx := context.Background()
	for _, m := range messages {
		if err := s.side.Echo(ctx, s.keys.EchoKey, m); err != nil {
			return err
		}
	}
	return nil
}

// EchoGroupID appends the current group UUID to the group-id list.
func (s *Suite) EchoGroupID(ctx context.Context) error {
	sig := requestSignature(ctx)
	return s.side.Echo(ctx, s.keys.GroupKey, sig.GroupUUID)
}

// RedisCount increments the well-known counter key.
func (s *Suite) RedisCount() (int64, error) {
	return s.side.Count(context.Background(), s.keys.CountKey)
}

// MisconfiguredLimits has an empty body; the dispatcher sends it with a
// soft limit exceeding the hard limit to probe the framework's handling of
// contradictory limits.
func MisconfiguredLimits() error {
	return nil
}
