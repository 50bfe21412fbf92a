package nn

import (
	"fmt"

	"github.com/medvision/volseg/tensor"
)

// Sequential chains modules, feeding each output into the next input.
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules, training: true}
}

// Add appends a module.
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Forward passes input through all modules in sequence.
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error
	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %v", i, err)
		}
	}
	return output, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }
func (s *Sequential) Kind() LayerKind  { return KindContainer }

func (s *Sequential) Visit(fn func(layer Module)) {
	for _, module := range s.modules {
		if v, ok := module.(Visitable); ok {
			v.Visit(fn)
		} else {
			fn(module)
		}
	}
}

func (s *Sequential) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	for i, module := range s.modules {
		if st, ok := module.(Stateful); ok {
			st.StateDict(joinPrefix(prefix, fmt.Sprintf("%d", i)), dst)
		}
	}
}

func (s *Sequential) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	for i, module := range s.modules {
		if st, ok := module.(Stateful); ok {
			if err := st.LoadStateDict(joinPrefix(prefix, fmt.Sprintf("%d", i)), src); err != nil {
				return err
			}
		}
	}
	return nil
}
