package checkpoints

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX export writes the model weights as graph initializers so external
// tooling can inspect or convert them. The wire format is the ONNX protobuf
// schema, emitted field by field; only the small subset of messages the
// export needs is encoded.
//
// Field numbers below follow onnx.proto3:
//
//	ModelProto:        ir_version=1, producer_name=2, producer_version=3,
//	                   graph=7, opset_import=8
//	GraphProto:        name=2, initializer=5, input=11, output=12
//	TensorProto:       dims=1, data_type=2, name=8, raw_data=9
//	ValueInfoProto:    name=1, type=2
//	TypeProto:         tensor_type=1
//	TypeProto.Tensor:  elem_type=1, shape=2
//	TensorShapeProto:  dim=1 (dim_value=1, dim_param=2)
//	OperatorSetIdProto: version=2

const (
	onnxIRVersion    = 8
	onnxOpsetVersion = 17
	onnxFloatType    = 1 // TensorProto.DataType FLOAT
)

// ONNXExporter serializes checkpoints to ONNX model files.
type ONNXExporter struct{}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// ExportToONNX writes the checkpoint weights to path as an ONNX model.
func (e *ONNXExporter) ExportToONNX(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if len(checkpoint.Weights) == 0 {
		return fmt.Errorf("checkpoint has no weights to export")
	}

	model := e.encodeModel(checkpoint)
	if err := os.WriteFile(path, model, 0o644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}
	return nil
}

func (e *ONNXExporter) encodeModel(checkpoint *Checkpoint) []byte {
	var model []byte
	model = protowire.AppendTag(model, 1, protowire.VarintType)
	model = protowire.AppendVarint(model, onnxIRVersion)
	model = protowire.AppendTag(model, 2, protowire.BytesType)
	model = protowire.AppendString(model, checkpoint.Metadata.Framework)
	model = protowire.AppendTag(model, 3, protowire.BytesType)
	model = protowire.AppendString(model, checkpoint.Metadata.Version)
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, e.encodeGraph(checkpoint))
	model = protowire.AppendTag(model, 8, protowire.BytesType)
	model = protowire.AppendBytes(model, encodeOpset(onnxOpsetVersion))
	return model
}

func (e *ONNXExporter) encodeGraph(checkpoint *Checkpoint) []byte {
	var graph []byte
	graph = protowire.AppendTag(graph, 2, protowire.BytesType)
	graph = protowire.AppendString(graph, checkpoint.Metadata.Net)

	for _, w := range checkpoint.Weights {
		graph = protowire.AppendTag(graph, 5, protowire.BytesType)
		graph = protowire.AppendBytes(graph, encodeTensor(w))
	}

	meta := checkpoint.Metadata
	graph = protowire.AppendTag(graph, 11, protowire.BytesType)
	graph = protowire.AppendBytes(graph, encodeValueInfo("input", meta.InChannels))
	graph = protowire.AppendTag(graph, 12, protowire.BytesType)
	graph = protowire.AppendBytes(graph, encodeValueInfo("output", meta.OutChannels))
	return graph
}

func encodeTensor(w WeightTensor) []byte {
	var t []byte
	for _, dim := range w.Shape {
		t = protowire.AppendTag(t, 1, protowire.VarintType)
		t = protowire.AppendVarint(t, uint64(dim))
	}
	t = protowire.AppendTag(t, 2, protowire.VarintType)
	t = protowire.AppendVarint(t, onnxFloatType)
	t = protowire.AppendTag(t, 8, protowire.BytesType)
	t = protowire.AppendString(t, w.Name)

	raw := make([]byte, 0, 4*len(w.Data))
	for _, v := range w.Data {
		bits := math.Float32bits(v)
		raw = append(raw, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	t = protowire.AppendTag(t, 9, protowire.BytesType)
	t = protowire.AppendBytes(t, raw)
	return t
}

// encodeValueInfo describes a float tensor NxCxDxHxW with symbolic batch
// and spatial extents; only the channel count is fixed.
func encodeValueInfo(name string, channels int) []byte {
	var shape []byte
	shape = appendDimParam(shape, "batch")
	shape = appendDimValue(shape, int64(channels))
	for _, axis := range []string{"depth", "height", "width"} {
		shape = appendDimParam(shape, axis)
	}

	var tensorType []byte
	tensorType = protowire.AppendTag(tensorType, 1, protowire.VarintType)
	tensorType = protowire.AppendVarint(tensorType, onnxFloatType)
	tensorType = protowire.AppendTag(tensorType, 2, protowire.BytesType)
	tensorType = protowire.AppendBytes(tensorType, shape)

	var typeProto []byte
	typeProto = protowire.AppendTag(typeProto, 1, protowire.BytesType)
	typeProto = protowire.AppendBytes(typeProto, tensorType)

	var info []byte
	info = protowire.AppendTag(info, 1, protowire.BytesType)
	info = protowire.AppendString(info, name)
	info = protowire.AppendTag(info, 2, protowire.BytesType)
	info = protowire.AppendBytes(info, typeProto)
	return info
}

func appendDimValue(shape []byte, value int64) []byte {
	var dim []byte
	dim = protowire.AppendTag(dim, 1, protowire.VarintType)
	dim = protowire.AppendVarint(dim, uint64(value))
	shape = protowire.AppendTag(shape, 1, protowire.BytesType)
	return protowire.AppendBytes(shape, dim)
}

func appendDimParam(shape []byte, name string) []byte {
	var dim []byte
	dim = protowire.AppendTag(dim, 2, protowire.BytesType)
	dim = protowire.AppendString(dim, name)
	shape = protowire.AppendTag(shape, 1, protowire.BytesType)
	return protowire.AppendBytes(shape, dim)
}

func encodeOpset(version int) []byte {
	var opset []byte
	opset = protowire.AppendTag(opset, 2, protowire.VarintType)
	opset = protowire.AppendVarint(opset, uint64(version))
	return opset
}
