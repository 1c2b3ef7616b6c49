package service

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

const DefaultInterpreter = "python"

// ProcessSpec is the command line and extra environment of a child process.
type ProcessSpec struct {
	Args []string
	Env  map[string]string
}

// BuildSpec maps a job to the interpreter invocation of its script in dir.
func BuildSpec(job model.Job, dir, interpreter string) ProcessSpec {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return ProcessSpec{
		Args: []string{interpreter, filepath.Join(dir, job.Spider)},
		Env:  job.Env(),
	}
}

// Environ returns base with the spec variables appended in a stable order.
// Variables already present in base are replaced.
func (s ProcessSpec) Environ(base []string) []string {
	ret := make([]string, 0, len(base)+len(s.Env))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := s.Env[name]; ok {
			continue
		}
		ret = append(ret, kv)
	}
	for _, name := range slices.Sorted(maps.Keys(s.Env)) {
		ret = append(ret, name+"="+s.Env[name])
	}
	return ret
}
