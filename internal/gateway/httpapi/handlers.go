package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/lifecycle"
	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/storage"
)

// ProjectCreateRequest is the JSON body for POST /v1/projects.
type ProjectCreateRequest struct {
	// Message is the user's initial request. When Name is empty it
	// seeds the generated project name and is stored as the first
	// conversation message.
	Message  string `json:"message"`
	Name     string `json:"name,omitempty"`
	Template string `json:"template,omitempty"`
}

// ProjectCreateResponse is the JSON response for POST /v1/projects.
type ProjectCreateResponse struct {
	Message  string `json:"message"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Template string `json:"template"`
	Sandbox  string `json:"sandbox"`
	Port     int    `json:"port"`
	URL      string `json:"url"`
}

// ProjectResponse describes a project in list/get responses.
type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Template  string `json:"template"`
	Sandbox   string `json:"sandbox,omitempty"`
	Port      int    `json:"port,omitempty"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	URL       string `json:"url,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`

	// Populated by GET /v1/projects/{id} only.
	Container        *ContainerInfo `json:"container,omitempty"`
	ContainerStarted bool           `json:"container_started,omitempty"`
}

// ContainerInfo reports the sandbox container state.
type ContainerInfo struct {
	Running bool   `json:"running"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProjectListResponse is the JSON response for GET /v1/projects.
type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// ProjectDeleteResponse is the JSON response for DELETE /v1/projects/{id}.
type ProjectDeleteResponse struct {
	Message   string         `json:"message"`
	ProjectID string         `json:"project_id"`
	Cleanup   CleanupSummary `json:"cleanup"`
}

// CleanupSummary mirrors the lifecycle cleanup report on the wire.
type CleanupSummary struct {
	ContainerRemoved bool     `json:"container_removed"`
	ImageRemoved     bool     `json:"image_removed"`
	FilesRemoved     bool     `json:"files_removed"`
	Errors           []string `json:"errors,omitempty"`
}

// PreviewResponse is the JSON response for GET /v1/projects/{id}/preview.
type PreviewResponse struct {
	PreviewURL  string `json:"preview_url"`
	HostPath    string `json:"host_path"`
	ProjectName string `json:"project_name"`
}

func (g *Gateway) handleProjectCreate(c *okapi.Context) error {
	var req ProjectCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Message == "" && req.Name == "" {
		return c.AbortBadRequest("message or name is required")
	}

	name := req.Name
	if name == "" {
		name = FancyProjectName(req.Message)
	}
	template := req.Template
	if template == "" {
		template = g.config.DefaultTemplate
	}
	sandbox := strings.ToLower(name)
	port := lifecycle.RandomHostPort()

	project := &domain.Project{
		ID:       domain.NewID(),
		Name:     name,
		Template: template,
		Sandbox:  sandbox,
		Port:     port,
		Status:   domain.StatusDeploying,
	}
	if err := g.store.Projects().Create(c.Context(), project); err != nil {
		g.logger.Error("creating project record",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("creating project failed")
	}

	g.logger.Info("deploying project",
		slog.String("project", name),
		slog.String("template", template),
		slog.Int("port", port),
	)

	deployment, err := g.lifecycle.Deploy(c.Context(), template, name, sandbox, port)
	if err != nil {
		if uerr := g.store.Projects().UpdateStatus(c.Context(), project.ID, domain.StatusError, err.Error()); uerr != nil {
			g.logger.Warn("recording deploy failure", slog.String("error", uerr.Error()))
		}
		g.logger.Error("deploy failed",
			slog.String("project", name),
			slog.String("error", err.Error()),
		)
		return c.JSON(http.StatusBadGateway, ErrorBody{Error: err.Error()})
	}

	if err := g.store.Projects().UpdateStatus(c.Context(), project.ID, domain.StatusReady, ""); err != nil {
		g.logger.Warn("marking project ready", slog.String("error", err.Error()))
	}

	// The initial request becomes the first conversation message so the
	// session picks it up as context.
	if req.Message != "" {
		if err := g.store.Messages().AppendMessages(c.Context(), project.ID, []llm.Message{llm.UserText(req.Message)}); err != nil {
			g.logger.Warn("storing initial message", slog.String("error", err.Error()))
		}
	}

	return c.JSON(http.StatusCreated, ProjectCreateResponse{
		Message:  "Project created successfully",
		ID:       project.ID.String(),
		Name:     name,
		Template: template,
		Sandbox:  deployment.SandboxName,
		Port:     deployment.Port,
		URL:      projectURL(deployment.Port),
	})
}

func (g *Gateway) handleProjectList(c *okapi.Context) error {
	projects, err := g.store.Projects().List(c.Context())
	if err != nil {
		g.logger.Error("listing projects", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing projects failed")
	}

	resp := ProjectListResponse{Projects: make([]ProjectResponse, len(projects))}
	for i, p := range projects {
		resp.Projects[i] = toProjectResponse(p)
	}
	return c.OK(resp)
}

func (g *Gateway) handleProjectGet(c *okapi.Context) error {
	project, err := g.resolveProject(c)
	if err != nil {
		return g.projectError(c, err)
	}

	resp := toProjectResponse(project)

	// Visiting a project wakes its sandbox.
	if project.Sandbox != "" {
		result, err := g.lifecycle.EnsureRunning(c.Context(), project.Sandbox)
		if err != nil {
			g.logger.Warn("ensuring sandbox running",
				slog.String("project", project.Name),
				slog.String("error", err.Error()),
			)
			resp.Container = &ContainerInfo{Error: err.Error()}
		} else {
			resp.Container = &ContainerInfo{
				Running: result.Status.Running,
				State:   result.Status.RawState,
			}
			resp.ContainerStarted = result.Action != "already_running"
		}
	}

	return c.OK(resp)
}

func (g *Gateway) handleProjectDelete(c *okapi.Context) error {
	project, err := g.resolveProject(c)
	if err != nil {
		return g.projectError(c, err)
	}

	summary := CleanupSummary{}
	if project.Sandbox != "" {
		report := g.lifecycle.DeleteAndCleanup(c.Context(), project.Sandbox, project.Name)
		summary = CleanupSummary{
			ContainerRemoved: report.ContainerRemoved,
			ImageRemoved:     report.ImageRemoved,
			FilesRemoved:     report.FilesRemoved,
			Errors:           report.Errors,
		}
	} else if err := g.workspace.RemoveProject(project.Name); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("remove project files: %v", err))
	} else {
		summary.FilesRemoved = true
	}

	if err := g.store.Messages().DeleteForProject(c.Context(), project.ID); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("delete conversation history: %v", err))
	}
	if err := g.store.Projects().Delete(c.Context(), project.ID); err != nil {
		g.logger.Error("deleting project record",
			slog.String("project", project.Name),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("deleting project record failed")
	}

	return c.OK(ProjectDeleteResponse{
		Message:   "Project deleted successfully",
		ProjectID: project.ID.String(),
		Cleanup:   summary,
	})
}

func (g *Gateway) handleProjectFiles(c *okapi.Context) error {
	project, err := g.resolveProject(c)
	if err != nil {
		return g.projectError(c, err)
	}

	dir := g.workspace.ProjectDir(project.Name)
	if _, err := os.Stat(dir); err != nil {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "project directory not found"})
	}

	tree, err := BuildFileTree(dir, project.Name)
	if err != nil {
		g.logger.Error("building file tree",
			slog.String("project", project.Name),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("reading project files failed")
	}
	return c.OK(tree)
}

func (g *Gateway) handleProjectPreview(c *okapi.Context) error {
	project, err := g.resolveProject(c)
	if err != nil {
		return g.projectError(c, err)
	}

	return c.OK(PreviewResponse{
		PreviewURL:  projectURL(project.Port),
		HostPath:    g.workspace.ProjectDir(project.Name),
		ProjectName: project.Name,
	})
}

// resolveProject looks the project up by UUID or name from the path
// parameter.
func (g *Gateway) resolveProject(c *okapi.Context) (*domain.Project, error) {
	ref := c.Param("id")
	if id, err := uuid.Parse(ref); err == nil {
		return g.store.Projects().Get(c.Context(), id)
	}
	return g.store.Projects().GetByName(c.Context(), ref)
}

func (g *Gateway) projectError(c *okapi.Context, err error) error {
	if err == storage.ErrNotFound {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "project not found"})
	}
	g.logger.Error("loading project", slog.String("error", err.Error()))
	return c.AbortInternalServerError("loading project failed")
}

func toProjectResponse(p *domain.Project) ProjectResponse {
	resp := ProjectResponse{
		ID:        p.ID.String(),
		Name:      p.Name,
		Template:  p.Template,
		Sandbox:   p.Sandbox,
		Port:      p.Port,
		Status:    p.Status,
		LastError: p.LastError,
		URL:       projectURL(p.Port),
	}
	if !p.CreatedAt.IsZero() {
		resp.CreatedAt = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !p.UpdatedAt.IsZero() {
		resp.UpdatedAt = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func projectURL(port int) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", port)
}
