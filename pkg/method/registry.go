package method

// Choice is a (code, display name) pair for method-selection forms.
type Choice struct {
	Code        string
	DisplayName string
}

// Registry maps method codes to implementations. It is constructed and
// populated at application boot and passed to handlers explicitly; it is
// not safe for concurrent mutation after startup.
type Registry struct {
	methods map[string]Method
	order   []string
	allowed []string
}

// NewRegistry creates a registry whose Enabled and Choices views are
// filtered to the given allowlist of method codes.
func NewRegistry(enabledMethods []string) *Registry {
	return &Registry{
		methods: make(map[string]Method),
		allowed: enabledMethods,
	}
}

// Register adds a method under its code. Re-registration replaces the
// previous implementation (last write wins) without disturbing order.
func (r *Registry) Register(m Method) {
	code := m.Name()
	if _, exists := r.methods[code]; !exists {
		r.order = append(r.order, code)
	}
	r.methods[code] = m
}

// Get returns the method registered under code.
func (r *Registry) Get(code string) (Method, bool) {
	m, ok := r.methods[code]
	return m, ok
}

// Enabled returns the registered methods present in the allowlist.
func (r *Registry) Enabled() map[string]Method {
	enabled := make(map[string]Method)
	for _, code := range r.allowed {
		if m, ok := r.methods[code]; ok {
			enabled[code] = m
		}
	}
	return enabled
}

// IsEnabled reports whether code is registered and allowed.
func (r *Registry) IsEnabled(code string) bool {
	if _, registered := r.methods[code]; !registered {
		return false
	}
	for _, allowed := range r.allowed {
		if allowed == code {
			return true
		}
	}
	return false
}

// Choices returns (code, display name) pairs for the enabled methods in
// registration order, for method-selection forms.
func (r *Registry) Choices() []Choice {
	var choices []Choice
	for _, code := range r.order {
		if !r.IsEnabled(code) {
			continue
		}
		choices = append(choices, Choice{Code: code, DisplayName: r.methods[code].DisplayName()})
	}
	return choices
}
