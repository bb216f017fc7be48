package saga

import (
	"errors"
	"sort"
	"sync"
)

// ErrTemplateNotFound is returned when a saga references an unknown template.
var ErrTemplateNotFound = errors.New("saga template not found")

// StepDefinition is the static description of one step in a template.
type StepDefinition struct {
	Name                 string
	Type                 StepType
	Service              string
	Endpoint             string
	CompensationEndpoint string
	DefaultInput         Data
	MaxRetries           int
}

// Template is a named, ordered list of step definitions. Templates are
// registered once at startup and read-only afterwards.
type Template struct {
	Name        string
	Description string
	Steps       []StepDefinition
}

// Registry maps template names to templates.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register upserts a template by name.
func (r *Registry) Register(tpl *Template) {
	if tpl == nil || tpl.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.Name] = tpl
}

// Get returns the template or ErrTemplateNotFound.
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[name]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return tpl, nil
}

// Has reports whether a template is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins installs the payment templates shipped with the
// orchestrator. Called once from main.
func RegisterBuiltins(r *Registry) {
	r.Register(&Template{
		Name:        "standard-payment",
		Description: "Standard payment processing with validation, routing and notification",
		Steps: []StepDefinition{
			{
				Name:                 "validate-payment",
				Type:                 StepTypeValidation,
				Service:              "validation-service",
				Endpoint:             "/v1/validate",
				CompensationEndpoint: "",
				MaxRetries:           2,
			},
			{
				Name:                 "route-payment",
				Type:                 StepTypeRouting,
				Service:              "routing-service",
				Endpoint:             "/v1/route",
				CompensationEndpoint: "/v1/route/cancel",
				MaxRetries:           2,
			},
			{
				Name:                 "debit-account",
				Type:                 StepTypeAccountAdapter,
				Service:              "account-adapter",
				Endpoint:             "/v1/debit",
				CompensationEndpoint: "/v1/debit/reverse",
				MaxRetries:           2,
			},
			{
				Name:                 "process-transaction",
				Type:                 StepTypeTransactionProcessing,
				Service:              "transaction-service",
				Endpoint:             "/v1/transactions",
				CompensationEndpoint: "/v1/transactions/reverse",
				MaxRetries:           2,
			},
			{
				Name:                 "notify-parties",
				Type:                 StepTypeNotification,
				Service:              "notification-service",
				Endpoint:             "/v1/notify",
				CompensationEndpoint: "",
				MaxRetries:           1,
			},
		},
	})

	r.Register(&Template{
		Name:        "fast-payment",
		Description: "Instant payment rail with minimal checks",
		Steps: []StepDefinition{
			{
				Name:                 "validate-payment",
				Type:                 StepTypeValidation,
				Service:              "validation-service",
				Endpoint:             "/v1/validate/fast",
				MaxRetries:           1,
			},
			{
				Name:                 "process-transaction",
				Type:                 StepTypeTransactionProcessing,
				Service:              "transaction-service",
				Endpoint:             "/v1/transactions/instant",
				CompensationEndpoint: "/v1/transactions/reverse",
				MaxRetries:           1,
			},
			{
				Name:                 "notify-parties",
				Type:                 StepTypeNotification,
				Service:              "notification-service",
				Endpoint:             "/v1/notify",
				MaxRetries:           1,
			},
		},
	})

	r.Register(&Template{
		Name:        "high-value-payment",
		Description: "High-value payment with fraud screening and dual control",
		Steps: []StepDefinition{
			{
				Name:                 "validate-payment",
				Type:                 StepTypeValidation,
				Service:              "validation-service",
				Endpoint:             "/v1/validate",
				MaxRetries:           2,
			},
			{
				Name:                 "fraud-screening",
				Type:                 StepTypeValidation,
				Service:              "fraud-service",
				Endpoint:             "/v1/score",
				DefaultInput:         Data{"screeningLevel": "enhanced"},
				MaxRetries:           3,
			},
			{
				Name:                 "route-payment",
				Type:                 StepTypeRouting,
				Service:              "routing-service",
				Endpoint:             "/v1/route",
				CompensationEndpoint: "/v1/route/cancel",
				MaxRetries:           2,
			},
			{
				Name:                 "debit-account",
				Type:                 StepTypeAccountAdapter,
				Service:              "account-adapter",
				Endpoint:             "/v1/debit",
				CompensationEndpoint: "/v1/debit/reverse",
				MaxRetries:           2,
			},
			{
				Name:                 "process-transaction",
				Type:                 StepTypeTransactionProcessing,
				Service:              "transaction-service",
				Endpoint:             "/v1/transactions",
				CompensationEndpoint: "/v1/transactions/reverse",
				MaxRetries:           3,
			},
			{
				Name:                 "notify-parties",
				Type:                 StepTypeNotification,
				Service:              "notification-service",
				Endpoint:             "/v1/notify",
				MaxRetries:           1,
			},
		},
	})
}
