// Package ast turns pre-parsed AST trees into the flat statement-node list
// and the static graph queries of the analysis pipeline. The parser itself
// is external; this package consumes its JSON output.
package ast

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

// Node is one element of the pre-parsed AST JSON for a source file.
type Node struct {
	Type      string  `json:"type"`
	Name      string  `json:"name,omitempty"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Schema    string  `json:"schema,omitempty"`
	Children  []*Node `json:"children,omitempty"`

	Tables    []TableRef `json:"tables,omitempty"`
	Variables []VarDecl  `json:"variables,omitempty"`
	DMLKind   string     `json:"dmlKind,omitempty"`
}

// TableRef is a table reference recorded by the parser on a statement.
type TableRef struct {
	Schema  string   `json:"schema,omitempty"`
	Name    string   `json:"name"`
	DBLink  string   `json:"dbLink,omitempty"`
	Access  string   `json:"access"` // "r", "w" or "x"
	Columns []string `json:"columns,omitempty"`
}

// VarDecl is a variable or parameter declaration recorded by the parser.
type VarDecl struct {
	Name          string `json:"name"`
	Type          string `json:"type,omitempty"`
	ParameterType string `json:"parameterType,omitempty"` // IN, OUT, IN_OUT, LOCAL
	Value         string `json:"value,omitempty"`
	Role          string `json:"role,omitempty"`
}

// LoadAST reads the pre-parsed AST JSON for a source file.
func LoadAST(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrASTNotFound
		}
		return nil, fmt.Errorf("read ast json %s: %w", path, err)
	}

	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse ast json %s: %w", path, err)
	}
	return &root, nil
}

// unitTypes are the node types treated as summary units.
var unitTypes = map[string]bool{
	"PROCEDURE": true,
	"FUNCTION":  true,
	"TRIGGER":   true,
}

// nonAnalyzableTypes never receive an LLM summary of their own.
var nonAnalyzableTypes = map[string]bool{
	"FILE": true,
	"SPEC": true,
}

// Processor walks one file's AST and produces the flat ordered node list,
// the per-unit info map and the static graph queries. DDL metadata enriches
// reused columns with types and comments without re-querying the graph.
type Processor struct {
	directory     string
	fileName      string
	sourceLines   []string
	ddlCache      *models.DDLCache
	defaultSchema string
	db            string
	logger        *zap.Logger

	nodes []*models.StatementNode
	units map[string]*models.UnitInfo
}

// NewProcessor binds a processor to one source file.
func NewProcessor(
	directory, fileName string,
	sourceLines []string,
	ddlCache *models.DDLCache,
	defaultSchema string,
	db string,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		directory:     directory,
		fileName:      fileName,
		sourceLines:   sourceLines,
		ddlCache:      ddlCache,
		defaultSchema: defaultSchema,
		db:            db,
		logger:        logger.Named("ast"),
		units:         make(map[string]*models.UnitInfo),
	}
}

// Nodes returns the flat ordered node list built by CollectNodes.
func (p *Processor) Nodes() []*models.StatementNode { return p.nodes }

// Units returns the unit-info map built by CollectNodes.
func (p *Processor) Units() map[string]*models.UnitInfo { return p.units }

// LastLine returns the maximum end line seen in the AST.
func (p *Processor) LastLine() int {
	last := 0
	for _, n := range p.nodes {
		if n.EndLine > last {
			last = n.EndLine
		}
	}
	return last
}

// CollectNodes walks the AST, producing the flat ordered StatementNode list
// (FILE node first) and the unit-info map for every procedure and function.
func (p *Processor) CollectNodes(root *Node) error {
	if root == nil {
		return &apperrors.ProcessorError{Directory: p.directory, FileName: p.fileName, Message: "nil ast root"}
	}

	lastLine := maxEndLine(root)

	fileNode := &models.StatementNode{
		Directory:    p.directory,
		FileName:     p.fileName,
		NodeType:     "FILE",
		Name:         p.fileName,
		StartLine:    1,
		EndLine:      lastLine,
		HasChildren:  len(root.Children) > 0,
		ContextReady: models.NewSignal(),
		Completion:   models.NewSignal(),
		OK:           true,
	}
	p.nodes = append(p.nodes, fileNode)

	children := root.Children
	if !strings.EqualFold(root.Type, "FILE") {
		// Some parsers emit the first unit as the root.
		children = []*Node{root}
	}

	for _, child := range children {
		if err := p.collect(child, fileNode); err != nil {
			return err
		}
	}

	p.attachCode()
	return nil
}

func (p *Processor) collect(astNode *Node, parent *models.StatementNode) error {
	if astNode.StartLine < 1 || astNode.EndLine < astNode.StartLine {
		return &apperrors.ProcessorError{
			Directory: p.directory,
			FileName:  p.fileName,
			Message:   fmt.Sprintf("invalid line range %d-%d for %s", astNode.StartLine, astNode.EndLine, astNode.Type),
		}
	}

	nodeType := strings.ToUpper(astNode.Type)

	node := &models.StatementNode{
		Directory:    p.directory,
		FileName:     p.fileName,
		NodeType:     nodeType,
		Name:         astNode.Name,
		StartLine:    astNode.StartLine,
		EndLine:      astNode.EndLine,
		Parent:       parent,
		HasChildren:  len(astNode.Children) > 0,
		Analyzable:   !nonAnalyzableTypes[nodeType],
		ContextReady: models.NewSignal(),
		Completion:   models.NewSignal(),
		OK:           true,
	}
	parent.Children = append(parent.Children, node)
	p.nodes = append(p.nodes, node)

	if unitTypes[nodeType] {
		schema := astNode.Schema
		if schema == "" {
			schema = p.defaultSchema
		}
		node.ProcedureName = astNode.Name
		node.ProcedureType = nodeType
		node.SchemaName = strings.ToLower(schema)

		unitKey := p.unitKey(astNode.Name)
		p.units[unitKey] = &models.UnitInfo{
			UnitKey:       unitKey,
			Name:          astNode.Name,
			Type:          nodeType,
			SchemaName:    node.SchemaName,
			StartLine:     astNode.StartLine,
			EndLine:       astNode.EndLine,
			ContainerNode: node,
		}
	}

	p.collectTables(astNode, node)
	p.collectVariables(astNode, node)

	if astNode.DMLKind != "" {
		node.DMLRanges = append(node.DMLRanges, models.DMLRange{
			Kind:      strings.ToUpper(astNode.DMLKind),
			StartLine: astNode.StartLine,
			EndLine:   astNode.EndLine,
		})
	}

	for _, child := range astNode.Children {
		if err := p.collect(child, node); err != nil {
			return err
		}
	}

	return nil
}

func (p *Processor) unitKey(name string) string {
	return p.directory + "/" + p.fileName + "#" + strings.ToLower(name)
}

// collectTables resolves each table reference against the default schema and
// records it on the node for query emission.
func (p *Processor) collectTables(astNode *Node, node *models.StatementNode) {
	for _, ref := range astNode.Tables {
		schema := ref.Schema
		if schema == "" {
			schema = p.defaultSchema
		}
		access := ref.Access
		if access == "" {
			access = "r"
		}
		node.TableRefs = append(node.TableRefs, models.TableRef{
			Schema:  strings.ToLower(schema),
			Name:    strings.ToUpper(ref.Name),
			DBLink:  ref.DBLink,
			Access:  access,
			Columns: ref.Columns,
		})
	}
}

// collectVariables records declarations on the enclosing unit so SCOPE edges
// key on the procedure name.
func (p *Processor) collectVariables(astNode *Node, node *models.StatementNode) {
	if len(astNode.Variables) == 0 {
		return
	}

	procName := p.enclosingProcedure(node)
	scope := "Local"
	if procName == "" {
		scope = "Global"
	}

	for _, decl := range astNode.Variables {
		paramType := decl.ParameterType
		if paramType == "" {
			paramType = "LOCAL"
		}
		node.Variables = append(node.Variables, &models.Variable{
			Directory:     p.directory,
			FileName:      p.fileName,
			ProcedureName: procName,
			Name:          decl.Name,
			Type:          decl.Type,
			ParameterType: paramType,
			Value:         decl.Value,
			Role:          decl.Role,
			Scope:         scope,
			UsedRanges:    [][2]int{{node.StartLine, node.EndLine}},
		})
	}
}

func (p *Processor) enclosingProcedure(node *models.StatementNode) string {
	for n := node; n != nil; n = n.Parent {
		if n.ProcedureName != "" {
			return n.ProcedureName
		}
	}
	return ""
}

// attachCode sets NodeCode on leaves and SummarizedCode on parents, with
// child regions collapsed to placeholders. Token counts are the usual
// 4-characters-per-token estimate.
func (p *Processor) attachCode() {
	for _, node := range p.nodes {
		if node.NodeType == "FILE" {
			continue
		}
		if node.HasChildren {
			node.SummarizedCode = p.skeleton(node, "-- <block lines %d-%d>")
			node.Token = len(node.SummarizedCode) / 4
		} else {
			node.NodeCode = p.lines(node.StartLine, node.EndLine)
			node.Token = len(node.NodeCode) / 4
		}
	}
}

// Skeleton returns a node's code with each direct child's region collapsed
// to the placeholder format (which receives the child's start and end line).
func (p *Processor) skeleton(node *models.StatementNode, placeholder string) string {
	var sb strings.Builder
	line := node.StartLine

	for _, child := range node.Children {
		if child.StartLine > line {
			sb.WriteString(p.lines(line, child.StartLine-1))
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf(placeholder, child.StartLine, child.EndLine))
		sb.WriteString("\n")
		line = child.EndLine + 1
	}
	if line <= node.EndLine {
		sb.WriteString(p.lines(line, node.EndLine))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// ContextSkeleton is the parent-context variant: child regions become "....".
func (p *Processor) ContextSkeleton(node *models.StatementNode) string {
	var sb strings.Builder
	line := node.StartLine

	for _, child := range node.Children {
		if child.StartLine > line {
			sb.WriteString(p.lines(line, child.StartLine-1))
			sb.WriteString("\n")
		}
		sb.WriteString("....\n")
		line = child.EndLine + 1
	}
	if line <= node.EndLine {
		sb.WriteString(p.lines(line, node.EndLine))
	}

	return strings.TrimRight(sb.String(), "\n")
}

// lines returns the 1-based inclusive source range, clamped to the file.
func (p *Processor) lines(start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(p.sourceLines) {
		end = len(p.sourceLines)
	}
	if start > end {
		return ""
	}
	return strings.Join(p.sourceLines[start-1:end], "\n")
}

func maxEndLine(node *Node) int {
	last := node.EndLine
	for _, child := range node.Children {
		if l := maxEndLine(child); l > last {
			last = l
		}
	}
	if last < 1 {
		last = 1
	}
	return last
}
