package optimizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/medvision/volseg/checkpoints"
)

// Common helper functions for optimizer state management

// extractBufferIndex extracts the buffer index from state tensor names like
// "momentum_0", "m_1", "v_0".
func extractBufferIndex(name string) int {
	lastUnderscore := strings.LastIndexByte(name, '_')
	if lastUnderscore < 0 {
		return -1
	}
	idx, err := strconv.Atoi(name[lastUnderscore+1:])
	if err != nil {
		return -1
	}
	return idx
}

// extractBufferState wraps one state buffer as a checkpoint tensor.
func extractBufferState(buffer []float32, name string, stateType string) checkpoints.OptimizerTensor {
	data := make([]float32, len(buffer))
	copy(data, buffer)
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     []int{len(data)},
		Data:      data,
		StateType: stateType,
	}
}

// restoreBufferState restores a single buffer's state from a checkpoint tensor.
func restoreBufferState(buffer []float32, data []float32, name string) error {
	if len(data) != len(buffer) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, len(buffer), len(data))
	}
	copy(buffer, data)
	return nil
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	if val, ok := params[key].(float64); ok {
		return float32(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	if val, ok := params[key].(float64); ok {
		return uint64(val)
	}
	return defaultValue
}
