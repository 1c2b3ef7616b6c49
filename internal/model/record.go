package model

import (
	"encoding/json"
	"math"
	"time"
)

// LogsTopic is the broker topic every log record is sent to.
const LogsTopic = "job_logs"

// Stream labels the origin of a log line.
type Stream string

const (
	StreamStdout     Stream = "stdout"
	StreamStderr     Stream = "stderr"
	StreamEntrypoint Stream = "entrypoint"
)

// Record is a single log line of a job. Time is stamped by the sink at send
// time when left zero.
type Record struct {
	JobID   string
	Stream  Stream
	Message string
	Time    time.Time
}

func NewRecord(jobID string, stream Stream, message string) Record {
	return Record{
		JobID:   jobID,
		Stream:  stream,
		Message: message,
	}
}

type recordJSON struct {
	JobID   string      `json:"jid"`
	Payload payloadJSON `json:"payload"`
}

type payloadJSON struct {
	Log      string  `json:"log"`
	Datetime float64 `json:"datetime"`
	Stream   Stream  `json:"stream,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		JobID: r.JobID,
		Payload: payloadJSON{
			Log:      r.Message,
			Datetime: float64(r.Time.UnixNano()) / float64(time.Second),
			Stream:   r.Stream,
		},
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	sec, frac := math.Modf(raw.Payload.Datetime)
	*r = Record{
		JobID:   raw.JobID,
		Stream:  raw.Payload.Stream,
		Message: raw.Payload.Log,
		Time:    time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(),
	}
	return nil
}
