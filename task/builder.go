package task

import (
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/params"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todun/golem/dirmanager"
	"github.com/todun/golem/verifier"
)

// Builder constructs a coordinator from a finished definition.
type Builder struct {
	NodeName   string
	Definition *Definition
	RootPath   string
	DirManager *dirmanager.DirManager

	Config   *Config
	Verifier verifier.Verifier
	Log      *zap.Logger
}

// Build wires a coordinator and initializes its staging directory.
func (b *Builder) Build() (*Coordinator, error) {
	if b.Definition == nil {
		return nil, ErrNilDefinition
	}
	cfg := DefaultConfig()
	if b.Config != nil {
		// Copy so definition overrides never leak into the caller's config.
		copied := *b.Config
		cfg = &copied
	}
	if b.Definition.SubtaskTimeout > 0 {
		cfg.SubtaskTimeout = b.Definition.SubtaskTimeout
	}
	if b.Definition.FullTaskTimeout > 0 {
		cfg.FullTaskTimeout = b.Definition.FullTaskTimeout
	}

	coord, err := NewCoordinator(b.Definition, b.NodeName, cfg, b.Verifier, b.Log)
	if err != nil {
		return nil, err
	}
	if b.DirManager != nil {
		if err := coord.Initialize(b.DirManager); err != nil {
			return nil, fmt.Errorf("failed to initialize task: %w", err)
		}
	}
	return coord, nil
}

// BuildMinimalDefinition fills in only the fields needed to identify a task
// and size its work.
func BuildMinimalDefinition(typeInfo TypeInfo, dict map[string]interface{}) (*Definition, error) {
	def := &Definition{
		TaskType: typeInfo.Name,
	}

	if id, ok := dict["id"].(string); ok && id != "" {
		def.TaskID = id
	} else {
		def.TaskID = uuid.NewString()
	}

	subtasks, ok := toInt(dict["subtasks"])
	if !ok || subtasks <= 0 {
		return nil, fmt.Errorf("%w: subtasks", ErrMissingField)
	}
	def.TotalSubtasks = subtasks

	if resources, ok := dict["resources"].([]string); ok {
		def.Resources = append([]string(nil), resources...)
	}

	def.FullTaskTimeout = typeInfo.Defaults.FullTaskTimeout
	def.SubtaskTimeout = typeInfo.Defaults.SubtaskTimeout
	return def, nil
}

// BuildDefinition is the full construct-from-dictionary surface: identity and
// sizing plus name, timeouts, bid and output path.
func BuildDefinition(typeInfo TypeInfo, dict map[string]interface{}) (*Definition, error) {
	def, err := BuildMinimalDefinition(typeInfo, dict)
	if err != nil {
		return nil, err
	}

	name, ok := dict["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}
	def.TaskName = name

	bid, ok := toFloat(dict["bid"])
	if !ok {
		return nil, fmt.Errorf("%w: bid", ErrMissingField)
	}
	def.MaxPrice = etherToWei(bid)

	if s, ok := dict["timeout"].(string); ok {
		if def.FullTaskTimeout, err = StringToTimeout(s); err != nil {
			return nil, err
		}
	}
	if s, ok := dict["subtask_timeout"].(string); ok {
		if def.SubtaskTimeout, err = StringToTimeout(s); err != nil {
			return nil, err
		}
	}

	if options, ok := dict["options"].(map[string]interface{}); ok {
		if out, ok := options["output_path"].(string); ok {
			def.OutputPath = filepath.Join(out, def.TaskName)
		}
	}
	return def, nil
}

// BuildDictionary is the inverse of BuildDefinition.
func BuildDictionary(def *Definition) map[string]interface{} {
	return map[string]interface{}{
		"id":              def.TaskID,
		"type":            def.TaskType,
		"name":            def.TaskName,
		"timeout":         TimeoutToString(def.FullTaskTimeout),
		"subtask_timeout": TimeoutToString(def.SubtaskTimeout),
		"subtasks":        def.TotalSubtasks,
		"bid":             weiToEther(def.MaxPrice),
		"resources":       append([]string(nil), def.Resources...),
		"options": map[string]interface{}{
			"output_path": filepath.Dir(def.OutputPath),
		},
	}
}

func etherToWei(bid float64) *big.Int {
	wei, _ := new(big.Float).Mul(
		big.NewFloat(bid),
		new(big.Float).SetInt(big.NewInt(params.Ether)),
	).Int(nil)
	return wei
}

func weiToEther(price *big.Int) float64 {
	if price == nil {
		return 0
	}
	out, _ := new(big.Float).Quo(
		new(big.Float).SetInt(price),
		new(big.Float).SetInt(big.NewInt(params.Ether)),
	).Float64()
	return out
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
