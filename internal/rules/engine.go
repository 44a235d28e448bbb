package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"firestore-client/internal/shared/logger"
	"firestore-client/pkg/firestore"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

const (
	lookupTimeout = 5 * time.Second
	listSegment   = "*"
)

// compiledRule is a Rule with its pattern and CEL programs prepared.
type compiledRule struct {
	rule    Rule
	pattern *pathPattern
	allow   map[Operation]cel.Program
	deny    map[Operation]cel.Program
}

// Engine evaluates a rule set. Rules can be replaced at any time; evaluations
// in flight keep the set they started with.
type Engine struct {
	env *cel.Env
	log logger.Logger

	mu     sync.RWMutex
	rules  []*compiledRule
	source []Rule

	lookupMu sync.RWMutex
	lookup   DocumentLookup
}

// NewEngine creates an engine with no rules; every request is denied until a
// rule set is loaded.
func NewEngine(log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	e := &Engine{log: log.WithComponent("rules")}
	env, err := e.createCELEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e.env = env
	return e, nil
}

// createCELEnvironment declares the variables and functions conditions can use.
func (e *Engine) createCELEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("auth", cel.DynType),
		cel.Variable("request", cel.DynType),
		cel.Variable("resource", cel.DynType),
		cel.Variable("path", cel.StringType),
		cel.Variable("variables", cel.MapType(cel.StringType, cel.StringType)),
		cel.Function("exists",
			cel.Overload("exists_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.UnaryBinding(e.existsFunc))),
		cel.Function("get",
			cel.Overload("get_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(e.getFunc))),
	)
}

// SetDocumentLookup backs exists() and get(). Without one they fail evaluation.
func (e *Engine) SetDocumentLookup(l DocumentLookup) {
	e.lookupMu.Lock()
	e.lookup = l
	e.lookupMu.Unlock()
}

func (e *Engine) fetch(arg ref.Val) (firestore.Fields, bool, ref.Val) {
	path, ok := arg.Value().(string)
	if !ok {
		return nil, false, types.NewErr("document path must be a string")
	}
	e.lookupMu.RLock()
	lookup := e.lookup
	e.lookupMu.RUnlock()
	if lookup == nil {
		return nil, false, types.NewErr("document lookups are not available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	fields, found, err := lookup.LookupDocument(ctx, strings.Trim(path, "/"))
	if err != nil {
		return nil, false, types.NewErr("lookup of %s failed: %v", path, err)
	}
	return fields, found, nil
}

func (e *Engine) existsFunc(arg ref.Val) ref.Val {
	_, found, errVal := e.fetch(arg)
	if errVal != nil {
		return errVal
	}
	return types.Bool(found)
}

func (e *Engine) getFunc(arg ref.Val) ref.Val {
	fields, found, errVal := e.fetch(arg)
	if errVal != nil {
		return errVal
	}
	if !found {
		return types.NullValue
	}
	path, _ := arg.Value().(string)
	return types.DefaultTypeAdapter.NativeToValue(resourceMap(strings.Trim(path, "/"), fields))
}

// Load validates and compiles rs, then replaces the active rules. On error the
// previous rules stay active.
func (e *Engine) Load(rs *RuleSet) error {
	if rs == nil {
		rs = &RuleSet{}
	}
	if err := Validate(rs); err != nil {
		return err
	}

	compiled := make([]*compiledRule, 0, len(rs.Rules))
	for _, rule := range rs.Rules {
		cr, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority > compiled[j].rule.Priority
	})

	source := append([]Rule(nil), rs.Rules...)
	e.mu.Lock()
	e.rules = compiled
	e.source = source
	e.mu.Unlock()

	e.log.Infof("Loaded %d security rules", len(compiled))
	return nil
}

// Rules returns the active rules in the order they were loaded.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.source...)
}

func (e *Engine) compileRule(rule Rule) (*compiledRule, error) {
	pattern, err := compilePattern(rule.Match)
	if err != nil {
		return nil, fmt.Errorf("failed to compile match pattern '%s': %w", rule.Match, err)
	}
	cr := &compiledRule{
		rule:    rule,
		pattern: pattern,
		allow:   make(map[Operation]cel.Program, len(rule.Allow)),
		deny:    make(map[Operation]cel.Program, len(rule.Deny)),
	}
	for op, condition := range rule.Allow {
		program, err := e.compileCELExpression(condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile allow condition for operation '%s' in '%s': %w", op, rule.Match, err)
		}
		cr.allow[op] = program
	}
	for op, condition := range rule.Deny {
		program, err := e.compileCELExpression(condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile deny condition for operation '%s' in '%s': %w", op, rule.Match, err)
		}
		cr.deny[op] = program
	}
	return cr, nil
}

func (e *Engine) compileCELExpression(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition must evaluate to bool, got %s", out)
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

// Evaluate checks req against the active rules. Matching rules are tried in
// priority order; a deny condition that holds wins over any allow, and the
// first allow condition that holds grants access. Conditions that fail to
// evaluate count as not holding. Without a grant the request is denied.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()
	if req == nil || req.Path == "" {
		return nil, fmt.Errorf("request path is required")
	}
	if !req.Operation.valid() || req.Operation == OperationRead || req.Operation == OperationWrite {
		return nil, fmt.Errorf("invalid operation '%s'", req.Operation)
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	decision := &Decision{Reason: "No matching rule found (default deny)"}
	log := e.log.WithContext(ctx)

	// A list names a collection; rules written for its documents apply to it.
	matchPath := req.Path
	if req.Operation == OperationList {
		matchPath = strings.TrimSuffix(req.Path, "/") + "/" + listSegment
	}

	for _, cr := range rules {
		vars, ok := cr.pattern.match(matchPath)
		if !ok {
			continue
		}
		activation := buildActivation(req, vars)

		if program, key := lookupProgram(cr.deny, req.Operation); program != nil {
			denied, err := evaluateCondition(program, activation)
			if err != nil {
				log.Warnf("Deny condition '%s' of %s failed: %v", key, cr.rule.Match, err)
			} else if denied {
				decision.Allowed = false
				decision.DeniedBy = cr.rule.Match
				decision.RuleMatch = cr.rule.Match
				decision.Variables = vars
				decision.Reason = fmt.Sprintf("denied by '%s' condition", key)
				decision.Duration = time.Since(start)
				return decision, nil
			}
		}

		if program, key := lookupProgram(cr.allow, req.Operation); program != nil {
			allowed, err := evaluateCondition(program, activation)
			if err != nil {
				log.Warnf("Allow condition '%s' of %s failed: %v", key, cr.rule.Match, err)
			} else if allowed {
				decision.Allowed = true
				decision.AllowedBy = cr.rule.Match
				decision.RuleMatch = cr.rule.Match
				decision.Variables = vars
				decision.Reason = fmt.Sprintf("allowed by '%s' condition", key)
				decision.Duration = time.Since(start)
				return decision, nil
			}
		}

		if decision.RuleMatch == "" {
			decision.RuleMatch = cr.rule.Match
			decision.Variables = vars
		}
	}

	if decision.RuleMatch != "" {
		decision.Reason = fmt.Sprintf("Rule matched but no condition granted '%s'", req.Operation)
	}
	decision.Duration = time.Since(start)
	log.Debugf("Denied %s on %s: %s", req.Operation, req.Path, decision.Reason)
	return decision, nil
}

func lookupProgram(programs map[Operation]cel.Program, op Operation) (cel.Program, Operation) {
	for _, key := range op.lookupOrder() {
		if p, ok := programs[key]; ok {
			return p, key
		}
	}
	return nil, ""
}

func evaluateCondition(program cel.Program, activation map[string]interface{}) (bool, error) {
	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean value")
	}
	return result, nil
}

func buildActivation(req *Request, vars map[string]string) map[string]interface{} {
	var auth interface{}
	if req.Auth != nil {
		token := req.Auth.Token
		if token == nil {
			token = map[string]interface{}{}
		}
		auth = map[string]interface{}{
			"uid":   req.Auth.UID,
			"token": token,
		}
	}

	now := req.Time
	if now.IsZero() {
		now = time.Now()
	}

	var resource interface{}
	if req.Resource != nil {
		resource = resourceMap(req.Path, req.Resource)
	}

	request := map[string]interface{}{
		"auth":   auth,
		"method": string(req.Operation),
		"path":   req.Path,
		"time":   now,
	}
	if req.Data != nil {
		request["resource"] = resourceMap(req.Path, req.Data)
	}

	if vars == nil {
		vars = map[string]string{}
	}
	return map[string]interface{}{
		"auth":      auth,
		"request":   request,
		"resource":  resource,
		"path":      req.Path,
		"variables": vars,
	}
}

func resourceMap(path string, fields firestore.Fields) map[string]interface{} {
	id := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		id = path[i+1:]
	}
	return map[string]interface{}{
		"__name__": path,
		"id":       id,
		"data":     celFields(fields),
	}
}

// celFields converts document fields to values the CEL type adapter accepts.
func celFields(fields firestore.Fields) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = celValue(v)
	}
	return out
}

func celValue(v firestore.Value) interface{} {
	switch v.Kind() {
	case firestore.KindGeoPoint:
		g := v.AsGeoPoint()
		return map[string]interface{}{"latitude": g.Latitude, "longitude": g.Longitude}
	case firestore.KindArray:
		elems := v.AsArray()
		out := make([]interface{}, len(elems))
		for i, e := range elems {
			out[i] = celValue(e)
		}
		return out
	case firestore.KindMap:
		return celFields(v.AsMap())
	}
	return v.Interface()
}
