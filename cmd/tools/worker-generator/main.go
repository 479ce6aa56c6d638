// cmd/tools/worker-generator/main.go
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"appeals-workers/pkg/registry"
)

// WorkerData holds data for templates
type WorkerData struct {
	Name         string
	PackageName  string
	TaskType     string
	Category     string
	Description  string
	InputFields  []Field
	OutputFields []Field
	ErrorCodes   []string
}

// Field is one struct field generated from a schema property.
type Field struct {
	Name    string
	GoType  string
	JSONTag string
}

// schemaFields turns the properties of a JSON schema object into sorted struct fields.
func schemaFields(schema map[string]interface{}) []Field {
	props, _ := schema["properties"].(map[string]interface{})
	required := map[string]bool{}
	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	fields := make([]Field, 0, len(props))
	for prop, details := range props {
		d, _ := details.(map[string]interface{})
		tag := prop
		if !required[prop] {
			tag += ",omitempty"
		}
		fields = append(fields, Field{
			Name:    exportedName(prop),
			GoType:  goTypeFromJSONType(d["type"]),
			JSONTag: tag,
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// goTypeFromJSONType maps JSON schema types to Go types. Numbers and
// number-or-string unions are money amounts here, so they become decimals.
func goTypeFromJSONType(jsonType interface{}) string {
	switch jt := jsonType.(type) {
	case string:
		switch jt {
		case "string":
			return "string"
		case "integer":
			return "int"
		case "number":
			return "decimal.Decimal"
		case "boolean":
			return "bool"
		case "object":
			return "map[string]interface{}"
		case "array":
			return "[]interface{}"
		}
	case []interface{}:
		for _, t := range jt {
			if t == "number" {
				return "decimal.Decimal"
			}
		}
	}
	return "interface{}"
}

// exportedName turns organizationId into OrganizationID.
func exportedName(prop string) string {
	if prop == "" {
		return prop
	}
	name := strings.ToUpper(prop[:1]) + prop[1:]
	if strings.HasSuffix(name, "Id") {
		name = strings.TrimSuffix(name, "Id") + "ID"
	}
	return name
}

func usesDecimal(fields ...[]Field) bool {
	for _, fs := range fields {
		for _, f := range fs {
			if f.GoType == "decimal.Decimal" {
				return true
			}
		}
	}
	return false
}

const handlerTemplate = `// internal/workers/{{ .Category }}/{{ .TaskType }}/handler.go
package {{ .PackageName }}

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appeals-workers/internal/common/camunda"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "{{ .TaskType }}"
)

type Handler struct {
	config    *Config
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		validator: validation.MustForTask(TaskType),
		responder: camunda.NewResponder(TaskType, log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	started := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err != nil {
		h.responder.Fail(ctx, client, job, started, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.responder.Fail(ctx, client, job, started, err)
		return
	}

	h.responder.Complete(ctx, client, job, started, output)
}

func (h *Handler) parseInput(variables string) (*Input, error) {
	if err := h.validator.Validate(variables); err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInputValidationError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

// TODO: implement {{ .Name }}.{{ if .ErrorCodes }} Registered error codes: {{ join .ErrorCodes ", " }}.{{ end }}
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	return nil, fmt.Errorf("%s is not implemented", TaskType)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
`

const configTemplate = `// internal/workers/{{ .Category }}/{{ .TaskType }}/config.go
package {{ .PackageName }}

import (
	"time"

	"appeals-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(wcfg config.WorkerConfig) *Config {
	timeout := config.GetDuration(wcfg.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Config{
		Timeout: timeout,
	}
}
`

const modelsTemplate = `// internal/workers/{{ .Category }}/{{ .TaskType }}/models.go
package {{ .PackageName }}
{{ if .Decimal }}
import "github.com/shopspring/decimal"
{{ end }}
type Input struct {
{{- range .InputFields }}
	{{ .Name }} {{ .GoType }} ` + "`json:\"{{ .JSONTag }}\"`" + `
{{- end }}
}

type Output struct {
{{- range .OutputFields }}
	{{ .Name }} {{ .GoType }} ` + "`json:\"{{ .JSONTag }}\"`" + `
{{- end }}
}
`

const testTemplate = `package {{ .PackageName }}

import (
	"testing"

	"appeals-workers/internal/common/config"
	"appeals-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
)

func TestParseInput_RejectsEmptyObject(t *testing.T) {
	h := NewHandler(LoadConfig(config.WorkerConfig{}), logger.NewTestLogger(t))

	_, err := h.parseInput(` + "`{}`" + `)
	assert.Error(t, err)
}
`

// render writes every scaffold file for data through open.
func render(data WorkerData, open func(name string) (io.WriteCloser, error)) error {
	funcs := template.FuncMap{"join": strings.Join}
	files := []struct {
		name string
		body string
	}{
		{"handler.go", handlerTemplate},
		{"config.go", configTemplate},
		{"models.go", modelsTemplate},
		{"handler_test.go", testTemplate},
	}

	view := struct {
		WorkerData
		Decimal bool
	}{data, usesDecimal(data.InputFields, data.OutputFields)}

	for _, f := range files {
		tmpl, err := template.New(f.name).Funcs(funcs).Parse(f.body)
		if err != nil {
			return fmt.Errorf("parse template %s: %w", f.name, err)
		}
		w, err := open(f.name)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.name, err)
		}
		err = tmpl.Execute(w, view)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("render %s: %w", f.name, err)
		}
	}
	return nil
}

func workerData(activity *registry.Activity) WorkerData {
	return WorkerData{
		Name:         activity.DisplayName,
		PackageName:  strings.ReplaceAll(activity.TaskType, "-", ""),
		TaskType:     activity.TaskType,
		Category:     activity.Category,
		Description:  activity.Description,
		InputFields:  schemaFields(activity.InputSchema),
		OutputFields: schemaFields(activity.OutputSchema),
		ErrorCodes:   activity.ErrorCodes,
	}
}

func main() {
	taskType := flag.String("task", "", "Task type from the registry (e.g., refresh-alerts)")
	outputDir := flag.String("output", "./internal/workers/", "Root directory for generated workers")
	registryPath := flag.String("registry", "pkg/registry/activities.json", "Path to the activity registry JSON file")
	force := flag.Bool("force", false, "Overwrite an existing worker directory")
	flag.Parse()

	if *taskType == "" {
		fmt.Println("Usage: worker-generator --task <taskType> [--output <dir>] [--registry <path>] [--force]")
		fmt.Println("\nExample:")
		fmt.Println("  go run ./cmd/tools/worker-generator --task refresh-alerts")
		os.Exit(1)
	}

	reg, err := registry.LoadRegistry(*registryPath)
	if err != nil {
		fmt.Printf("Error loading registry from %s: %v\n", *registryPath, err)
		os.Exit(1)
	}

	activity, ok := reg.FindByTaskType(*taskType)
	if !ok {
		fmt.Printf("Task type '%s' not found in registry %s\n", *taskType, *registryPath)
		os.Exit(1)
	}

	data := workerData(activity)
	workerDir := filepath.Join(*outputDir, data.Category, data.TaskType)
	if _, err := os.Stat(workerDir); err == nil && !*force {
		fmt.Printf("Worker directory %s already exists; use --force to overwrite\n", workerDir)
		os.Exit(1)
	}
	if err := os.MkdirAll(workerDir, 0755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	err = render(data, func(name string) (io.WriteCloser, error) {
		path := filepath.Join(workerDir, name)
		fmt.Printf("Generated %s\n", path)
		return os.Create(path)
	})
	if err != nil {
		fmt.Printf("Error generating worker: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nWorker scaffold generated at: %s\n", workerDir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Implement execute in handler.go\n")
	fmt.Printf("  2. Register the worker in cmd/worker-manager/main.go\n")
	fmt.Printf("  3. Add its configuration to configs/config.yaml\n")
}
