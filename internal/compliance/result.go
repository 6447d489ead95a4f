package compliance

// Phase names in execution order
const (
	PhaseStructure = "structure"
	PhaseContent   = "content"
	PhaseCrypto    = "crypto"
	PhaseDomain    = "domain"
	PhaseQR        = "qr"
)

// PhaseResult captures the outcome of one validation phase
type PhaseResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Skipped  bool     `json:"skipped,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AddError records a failure and marks the phase failed
func (p *PhaseResult) AddError(msg string) {
	p.Errors = append(p.Errors, msg)
	p.Passed = false
}

// AddWarning records a non-fatal finding
func (p *PhaseResult) AddWarning(msg string) {
	p.Warnings = append(p.Warnings, msg)
}

// Report is the complete validation outcome across all phases
type Report struct {
	Valid  bool          `json:"valid"`
	Phases []PhaseResult `json:"phases"`
}

// NewReport creates an empty report
func NewReport() *Report {
	return &Report{}
}

func (r *Report) addPhase(p PhaseResult) {
	r.Phases = append(r.Phases, p)
}

// ComputeValidity sets Valid: every executed phase must have passed.
// Skipped phases do not count against validity.
func (r *Report) ComputeValidity() {
	for _, p := range r.Phases {
		if !p.Skipped && !p.Passed {
			r.Valid = false
			return
		}
	}
	r.Valid = true
}

// AllErrors flattens phase errors in execution order
func (r *Report) AllErrors() []string {
	var out []string
	for _, p := range r.Phases {
		out = append(out, p.Errors...)
	}
	return out
}

// AllWarnings flattens phase warnings in execution order
func (r *Report) AllWarnings() []string {
	var out []string
	for _, p := range r.Phases {
		out = append(out, p.Warnings...)
	}
	return out
}

// Phase returns the named phase result, or nil
func (r *Report) Phase(name string) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Name == name {
			return &r.Phases[i]
		}
	}
	return nil
}
