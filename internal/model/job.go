package model

import (
	"encoding/json"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	_ "embed"
)

// Environment variables exchanged with the scheduling platform and the child.
const (
	EnvJobInfo = "JOB_INFO"

	EnvSpiderJob        = "ESTELA_SPIDER_JOB"
	EnvSpiderName       = "ESTELA_SPIDER_NAME"
	EnvAPIHost          = "ESTELA_API_HOST"
	EnvAuthToken        = "ESTELA_AUTH_TOKEN"
	EnvCollection       = "ESTELA_COLLECTION"
	EnvUniqueCollection = "ESTELA_UNIQUE_COLLECTION"
)

//go:embed job.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("job.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Job"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

// Job describes a single execution. It is decoded once and never modified,
// WithSpider returns a copy.
type Job struct {
	Key        string `json:"key"`
	Spider     string `json:"spider"`
	APIHost    string `json:"api_host"`
	AuthToken  string `json:"auth_token"`
	Collection string `json:"collection"`
	Unique     string `json:"unique"`

	value cue.Value
}

// DecodeJob parses the JOB_INFO blob. An empty blob or one which is not a
// JSON object fails with ErrMissingConfiguration. Duplicate keys follow
// encoding/json, the last one wins. Fields are checked by Validate.
func DecodeJob(blob string) (Job, error) {
	blob = strings.TrimSpace(blob)
	if !strings.HasPrefix(blob, "{") {
		return Job{}, ErrMissingConfiguration
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(blob), &fields); err != nil {
		return Job{}, &missingError{err: err}
	}
	value := cueCtx.Encode(fields)
	if value.Err() != nil {
		return Job{}, &missingError{err: value.Err()}
	}

	var job Job
	// all fields are optional at this stage, a partially filled struct is
	// rejected by Validate
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"key", &job.Key},
		{"spider", &job.Spider},
		{"api_host", &job.APIHost},
		{"auth_token", &job.AuthToken},
		{"collection", &job.Collection},
		{"unique", &job.Unique},
	} {
		v := value.LookupPath(cue.ParsePath(f.name))
		if !v.Exists() {
			continue
		}
		s, err := v.String()
		if err != nil {
			continue
		}
		*f.dst = s
	}
	job.value = value
	return job, nil
}

// Validate checks the decoded job against the schema and returns
// an *InvalidConfigurationError listing every violation.
func (j Job) Validate() error {
	if !j.value.Exists() {
		return &InvalidConfigurationError{err: ErrMissingConfiguration}
	}
	unified := schema.Unify(j.value)
	err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	)
	if err != nil {
		return &InvalidConfigurationError{
			Details: humanize(err),
			err:     err,
		}
	}
	return nil
}

// WithSpider returns a copy of the job running a resolved script file.
func (j Job) WithSpider(spider string) Job {
	j.Spider = spider
	return j
}

// Env returns the environment variables passed to the child.
func (j Job) Env() map[string]string {
	return map[string]string{
		EnvSpiderJob:        j.Key,
		EnvSpiderName:       j.Spider,
		EnvAPIHost:          j.APIHost,
		EnvAuthToken:        j.AuthToken,
		EnvCollection:       j.Collection,
		EnvUniqueCollection: j.Unique,
	}
}

type missingError struct {
	err error
}

func (e *missingError) Error() string {
	return ErrMissingConfiguration.Error() + ": " + e.err.Error()
}

func (e *missingError) Unwrap() []error {
	return []error{ErrMissingConfiguration, e.err}
}
