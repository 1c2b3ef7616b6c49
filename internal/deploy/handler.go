// Package deploy reports the result of a project deploy to the estela API.
//
// A deploy succeeds when the project has at least one spider and its
// candidate image could be promoted to production.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/bitmakerla/estela-entrypoint/internal/log"
	"github.com/bitmakerla/estela-entrypoint/internal/model"
)

// Environment variables read by report-deploy, next to JOB_INFO.
const (
	EnvKey   = "KEY"
	EnvToken = "TOKEN"
)

// Environment is the raw input of a deploy report.
type Environment struct {
	Key     string // project_id.deploy_id
	JobInfo string
	Token   string
}

type Target struct {
	ProjectID string
	DeployID  string
	APIHost   string
	Token     string
}

func ParseEnvironment(env Environment) (Target, error) {
	pid, did, ok := strings.Cut(env.Key, ".")
	if !ok || pid == "" {
		return Target{}, errors.New("invalid KEY environment variable, expected format: 'project_id.deploy_id'")
	}

	var apiHost string
	if job, err := model.DecodeJob(env.JobInfo); err == nil {
		apiHost = job.APIHost
	}
	if apiHost == "" {
		return Target{}, fmt.Errorf("%s must contain 'api_host'", model.EnvJobInfo)
	}
	if env.Token == "" {
		return Target{}, errors.New("TOKEN environment variable must be set")
	}
	return Target{
		ProjectID: pid,
		DeployID:  did,
		APIHost:   apiHost,
		Token:     env.Token,
	}, nil
}

type SpiderLister interface {
	SpiderNames() ([]string, error)
}

type Registry interface {
	Promote(ctx context.Context, pid string) error
	Cleanup(ctx context.Context, pid string) (bool, error)
}

type Handler struct {
	Spiders    SpiderLister
	Images     Registry
	Cleanup    bool
	HTTPClient *http.Client
}

// Run reports the deploy and returns the process exit code.
func (h Handler) Run(ctx context.Context, env Environment) (code int) {
	slog.InfoContext(ctx, "estela deploy reporter (requests)")

	target, err := ParseEnvironment(env)
	if err != nil {
		slog.ErrorContext(ctx, "fatal error", "error", err)
		return 1
	}
	ctx = withTarget(ctx, target)
	client, err := NewStatusClient(target.APIHost, target.Token, h.HTTPClient)
	if err != nil {
		slog.ErrorContext(ctx, "fatal error", "error", err)
		return 1
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "fatal error", "panic", r, "stack", string(debug.Stack()))
			if err := client.Update(ctx, target.ProjectID, target.DeployID, StatusFailure, nil); err != nil {
				slog.ErrorContext(ctx, "reporting failure", "error", err)
			}
			code = 1
		}
	}()

	spiders, err := h.Spiders.SpiderNames()
	if err != nil {
		slog.ErrorContext(ctx, "detecting spiders", "error", err)
		spiders = nil
	}

	status := StatusSuccess
	if len(spiders) == 0 {
		slog.WarnContext(ctx, "no spiders found in project")
		status = StatusFailure
		code = 1
	} else {
		slog.InfoContext(ctx, "found spiders", "count", len(spiders), "spiders", spiders)
	}

	if status == StatusSuccess {
		if err := h.Images.Promote(ctx, target.ProjectID); err != nil {
			slog.ErrorContext(ctx, "promoting candidate image", "error", err)
			status = StatusFailure
			code = 1
		}
	}
	if h.Cleanup {
		h.cleanup(ctx, target.ProjectID)
	} else {
		slog.InfoContext(ctx, "keeping candidate image", "tag", CandidateTag(target.ProjectID))
	}

	if err := client.Update(ctx, target.ProjectID, target.DeployID, status, spiders); err != nil {
		slog.ErrorContext(ctx, "updating deploy status", "error", err)
		code = 1
	}

	if code == 0 {
		slog.InfoContext(ctx, "deploy reporting completed")
	} else {
		slog.ErrorContext(ctx, "deploy reporting failed", "status", status)
	}
	return code
}

// cleanup never fails the deploy.
func (h Handler) cleanup(ctx context.Context, pid string) {
	deleted, err := h.Images.Cleanup(ctx, pid)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "deleting candidate image", "error", err)
	case !deleted:
		slog.WarnContext(ctx, "no candidate image to clean up", "tag", CandidateTag(pid))
	default:
		slog.InfoContext(ctx, "candidate image cleaned up", "tag", CandidateTag(pid))
	}
}

func withTarget(ctx context.Context, t Target) context.Context {
	return log.ContextAttrs(ctx,
		slog.String("project", t.ProjectID),
		slog.String("deploy", t.DeployID),
	)
}
