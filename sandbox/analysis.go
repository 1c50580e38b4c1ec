package sandbox

import (
	"fmt"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
)

// dangerousMembers are property names whose access allows climbing the
// prototype chain out of the capability boundary.
var dangerousMembers = map[string]struct{}{
	"constructor":      {},
	"__proto__":        {},
	"__defineGetter__": {},
	"__defineSetter__": {},
}

// identRef is one free identifier reference found during traversal.
type identRef struct {
	name string
	idx  file.Idx
}

// analysis is a single-use, call-scoped pass over one syntax tree. One
// traversal collects every declared name (function, class and variable
// names, all destructuring bindings, parameters, catch parameters, loop
// variables), records every identifier reference that is not a property
// name, an object-literal key or a label, and flags dangerous member
// access, require calls and eval/Function-constructor use as it goes.
// References are resolved against the completed declared-name set
// afterwards, so declaration order never matters.
type analysis struct {
	prog     *ast.Program
	declared map[string]struct{}
	refs     []identRef
	errs     []ValidationError
}

func newAnalysis(prog *ast.Program, safeNames []string) *analysis {
	a := &analysis{
		prog:     prog,
		declared: make(map[string]struct{}),
	}
	for _, name := range safeNames {
		a.declared[name] = struct{}{}
	}
	return a
}

func (a *analysis) run() {
	for _, stmt := range a.prog.Body {
		a.statement(stmt)
	}
}

// resolve checks every recorded reference against the declared-name set
// plus the caller's allowlist and returns the resulting errors.
func (a *analysis) resolve(allowed map[string]struct{}) []ValidationError {
	errs := a.errs
	for _, ref := range a.refs {
		if _, ok := a.declared[ref.name]; ok {
			continue
		}
		if _, ok := allowed[ref.name]; ok {
			continue
		}
		line, col := a.position(ref.idx)
		errs = append(errs, ValidationError{
			Category: CategoryGlobal,
			Message:  fmt.Sprintf("reference to undeclared identifier %q", ref.name),
			Line:     line,
			Column:   col,
		})
	}
	return errs
}

func (a *analysis) position(idx file.Idx) (int, int) {
	if a.prog == nil || a.prog.File == nil || idx == 0 {
		return 0, 0
	}
	pos := a.prog.File.Position(int(idx) - a.prog.File.Base())
	return pos.Line, pos.Column
}

func (a *analysis) addError(cat Category, idx file.Idx, format string, args ...any) {
	line, col := a.position(idx)
	a.errs = append(a.errs, ValidationError{
		Category: cat,
		Message:  fmt.Sprintf(format, args...),
		Line:     line,
		Column:   col,
	})
}

func (a *analysis) declare(name string) {
	a.declared[name] = struct{}{}
}

func (a *analysis) reference(name string, idx file.Idx) {
	a.refs = append(a.refs, identRef{name: name, idx: idx})
}

// statement dispatches on statement node kinds.
func (a *analysis) statement(stmt ast.Statement) {
	switch n := stmt.(type) {
	case nil:
	case *ast.BadStatement:
	case *ast.BlockStatement:
		for _, s := range n.List {
			a.statement(s)
		}
	case *ast.BranchStatement:
		// Label names are not identifier references.
	case *ast.ClassDeclaration:
		a.classLiteral(n.Class)
	case *ast.DebuggerStatement:
	case *ast.DoWhileStatement:
		a.statement(n.Body)
		a.expression(n.Test)
	case *ast.EmptyStatement:
	case *ast.ExpressionStatement:
		a.expression(n.Expression)
	case *ast.ForInStatement:
		a.forInto(n.Into)
		a.expression(n.Source)
		a.statement(n.Body)
	case *ast.ForOfStatement:
		a.forInto(n.Into)
		a.expression(n.Source)
		a.statement(n.Body)
	case *ast.ForStatement:
		a.forInit(n.Initializer)
		a.expression(n.Test)
		a.expression(n.Update)
		a.statement(n.Body)
	case *ast.FunctionDeclaration:
		a.functionLiteral(n.Function)
	case *ast.IfStatement:
		a.expression(n.Test)
		a.statement(n.Consequent)
		a.statement(n.Alternate)
	case *ast.LabelledStatement:
		a.statement(n.Statement)
	case *ast.LexicalDeclaration:
		for _, b := range n.List {
			a.binding(b)
		}
	case *ast.ReturnStatement:
		a.expression(n.Argument)
	case *ast.SwitchStatement:
		a.expression(n.Discriminant)
		for _, c := range n.Body {
			a.expression(c.Test)
			for _, s := range c.Consequent {
				a.statement(s)
			}
		}
	case *ast.ThrowStatement:
		a.expression(n.Argument)
	case *ast.TryStatement:
		a.statement(n.Body)
		if n.Catch != nil {
			if n.Catch.Parameter != nil {
				a.declareTarget(n.Catch.Parameter)
			}
			a.statement(n.Catch.Body)
		}
		if n.Finally != nil {
			a.statement(n.Finally)
		}
	case *ast.VariableStatement:
		for _, b := range n.List {
			a.binding(b)
		}
	case *ast.WhileStatement:
		a.expression(n.Test)
		a.statement(n.Body)
	case *ast.WithStatement:
		a.expression(n.Object)
		a.statement(n.Body)
	}
}

// expression dispatches on expression node kinds. Property names in dot
// access, non-computed object keys and class member keys are not treated
// as identifier references.
func (a *analysis) expression(expr ast.Expression) {
	switch n := expr.(type) {
	case nil:
	case *ast.ArrayLiteral:
		for _, e := range n.Value {
			a.expression(e)
		}
	case *ast.ArrayPattern:
		// Assignment-position destructuring: element identifiers are
		// references to existing bindings.
		for _, e := range n.Elements {
			a.expression(e)
		}
		a.expression(n.Rest)
	case *ast.ArrowFunctionLiteral:
		a.parameterList(n.ParameterList)
		a.conciseBody(n.Body)
	case *ast.AssignExpression:
		a.expression(n.Left)
		a.expression(n.Right)
	case *ast.AwaitExpression:
		a.expression(n.Argument)
	case *ast.BadExpression:
	case *ast.BinaryExpression:
		a.expression(n.Left)
		a.expression(n.Right)
	case *ast.BooleanLiteral:
	case *ast.BracketExpression:
		a.checkBracketMember(n)
		a.expression(n.Left)
		a.expression(n.Member)
	case *ast.CallExpression:
		a.checkCall(n)
		a.expression(n.Callee)
		for _, arg := range n.ArgumentList {
			a.expression(arg)
		}
	case *ast.ClassLiteral:
		a.classLiteral(n)
	case *ast.ConditionalExpression:
		a.expression(n.Test)
		a.expression(n.Consequent)
		a.expression(n.Alternate)
	case *ast.DotExpression:
		a.checkDotMember(n)
		a.expression(n.Left)
	case *ast.FunctionLiteral:
		a.functionLiteral(n)
	case *ast.Identifier:
		a.reference(n.Name.String(), n.Idx)
	case *ast.MetaProperty:
		// new.target / import.meta carry no free identifier.
	case *ast.NewExpression:
		a.checkNew(n)
		a.expression(n.Callee)
		for _, arg := range n.ArgumentList {
			a.expression(arg)
		}
	case *ast.NullLiteral:
	case *ast.NumberLiteral:
	case *ast.ObjectLiteral:
		for _, p := range n.Value {
			a.property(p)
		}
	case *ast.ObjectPattern:
		for _, p := range n.Properties {
			a.property(p)
		}
		a.expression(n.Rest)
	case *ast.Optional:
		a.expression(n.Expression)
	case *ast.OptionalChain:
		a.expression(n.Expression)
	case *ast.RegExpLiteral:
	case *ast.SequenceExpression:
		for _, e := range n.Sequence {
			a.expression(e)
		}
	case *ast.SpreadElement:
		a.expression(n.Expression)
	case *ast.StringLiteral:
	case *ast.SuperExpression:
	case *ast.TemplateLiteral:
		a.expression(n.Tag)
		for _, e := range n.Expressions {
			a.expression(e)
		}
	case *ast.ThisExpression:
	case *ast.UnaryExpression:
		a.expression(n.Operand)
	}
}

func (a *analysis) property(p ast.Property) {
	switch n := p.(type) {
	case nil:
	case *ast.PropertyShort:
		// Shorthand {a} is both key and value; the value side is a
		// reference (or, in patterns, a binding already collected).
		a.reference(n.Name.Name.String(), n.Name.Idx)
		a.expression(n.Initializer)
	case *ast.PropertyKeyed:
		if n.Computed {
			a.expression(n.Key)
		}
		a.expression(n.Value)
	case *ast.SpreadElement:
		a.expression(n.Expression)
	}
}

func (a *analysis) classLiteral(class *ast.ClassLiteral) {
	if class == nil {
		return
	}
	if class.Name != nil {
		a.declare(class.Name.Name.String())
	}
	a.expression(class.SuperClass)
	for _, el := range class.Body {
		switch m := el.(type) {
		case *ast.MethodDefinition:
			if m.Computed {
				a.expression(m.Key)
			}
			a.functionLiteral(m.Body)
		case *ast.FieldDefinition:
			if m.Computed {
				a.expression(m.Key)
			}
			a.expression(m.Initializer)
		case *ast.ClassStaticBlock:
			a.statement(m.Block)
		}
	}
}

func (a *analysis) functionLiteral(fn *ast.FunctionLiteral) {
	if fn == nil {
		return
	}
	if fn.Name != nil {
		a.declare(fn.Name.Name.String())
	}
	a.parameterList(fn.ParameterList)
	a.statement(fn.Body)
}

func (a *analysis) parameterList(params *ast.ParameterList) {
	if params == nil {
		return
	}
	for _, b := range params.List {
		a.binding(b)
	}
	if params.Rest != nil {
		a.declareTarget(params.Rest)
	}
}

func (a *analysis) conciseBody(body ast.ConciseBody) {
	switch n := body.(type) {
	case nil:
	case *ast.BlockStatement:
		a.statement(n)
	case *ast.ExpressionBody:
		a.expression(n.Expression)
	}
}

func (a *analysis) forInit(init ast.ForLoopInitializer) {
	switch n := init.(type) {
	case nil:
	case *ast.ForLoopInitializerExpression:
		a.expression(n.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		for _, b := range n.List {
			a.binding(b)
		}
	case *ast.ForLoopInitializerLexicalDecl:
		for _, b := range n.LexicalDeclaration.List {
			a.binding(b)
		}
	}
}

func (a *analysis) forInto(into ast.ForInto) {
	switch n := into.(type) {
	case nil:
	case *ast.ForIntoVar:
		a.binding(n.Binding)
	case *ast.ForDeclaration:
		a.declareTarget(n.Target)
	case *ast.ForIntoExpression:
		a.expression(n.Expression)
	}
}

func (a *analysis) binding(b *ast.Binding) {
	if b == nil {
		return
	}
	a.declareTarget(b.Target)
	a.expression(b.Initializer)
}

// declareTarget collects every name bound by a binding target: plain
// identifiers, object and array patterns (recursively), defaults and rest
// elements.
func (a *analysis) declareTarget(target ast.Expression) {
	switch n := target.(type) {
	case nil:
	case *ast.Identifier:
		a.declare(n.Name.String())
	case *ast.ObjectPattern:
		for _, p := range n.Properties {
			switch prop := p.(type) {
			case *ast.PropertyShort:
				a.declare(prop.Name.Name.String())
				a.expression(prop.Initializer)
			case *ast.PropertyKeyed:
				if prop.Computed {
					a.expression(prop.Key)
				}
				a.declareTarget(prop.Value)
			case *ast.SpreadElement:
				a.declareTarget(prop.Expression)
			}
		}
		a.declareTarget(n.Rest)
	case *ast.ArrayPattern:
		for _, e := range n.Elements {
			a.declareTarget(e)
		}
		a.declareTarget(n.Rest)
	case *ast.AssignExpression:
		// Binding with default: left side binds, right side is evaluated.
		a.declareTarget(n.Left)
		a.expression(n.Right)
	default:
		// Member-expression targets (for (o.x of ...)) bind nothing.
		a.expression(target)
	}
}

// checkDotMember flags dot access to prototype-chain escape hatches.
func (a *analysis) checkDotMember(n *ast.DotExpression) {
	name := n.Identifier.Name.String()
	if _, ok := dangerousMembers[name]; ok {
		a.addError(CategoryForbidden, n.Identifier.Idx, "access to forbidden property %q", name)
	}
}

// checkBracketMember flags bracket access with a literal key naming a
// forbidden property. Dynamically computed keys are invisible to static
// analysis and pass; see the validator documentation.
func (a *analysis) checkBracketMember(n *ast.BracketExpression) {
	lit, ok := n.Member.(*ast.StringLiteral)
	if !ok {
		return
	}
	name := lit.Value.String()
	if _, ok := dangerousMembers[name]; ok {
		a.addError(CategoryForbidden, lit.Idx, "access to forbidden property %q", name)
	}
}

// checkCall flags require calls, direct eval and calls through a
// .constructor member.
func (a *analysis) checkCall(n *ast.CallExpression) {
	switch callee := n.Callee.(type) {
	case *ast.Identifier:
		switch callee.Name.String() {
		case "require":
			a.addError(CategoryImport, callee.Idx, "call to require is not allowed")
		case "eval":
			a.addError(CategoryForbidden, callee.Idx, "call to eval is not allowed")
		}
	case *ast.DotExpression:
		if callee.Identifier.Name.String() == "constructor" {
			a.addError(CategoryForbidden, callee.Identifier.Idx, "call through constructor member is not allowed")
		}
	case *ast.BracketExpression:
		if lit, ok := callee.Member.(*ast.StringLiteral); ok && lit.Value.String() == "constructor" {
			a.addError(CategoryForbidden, lit.Idx, "call through constructor member is not allowed")
		}
	}
}

// checkNew flags Function-constructor synthesis.
func (a *analysis) checkNew(n *ast.NewExpression) {
	if callee, ok := n.Callee.(*ast.Identifier); ok && callee.Name.String() == "Function" {
		a.addError(CategoryForbidden, callee.Idx, "new Function is not allowed")
	}
}
