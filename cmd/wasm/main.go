//go:build js && wasm
// +build js,wasm

package main

import (
	"context"
	"fmt"
	"io"
	"syscall/js"

	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/fingerprint"
	"github.com/himanishpuri/AcousticSync/pkg/acousticsync/matcher"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorTooShort
	ErrorMatchFailed
)

// sliceReader serves samples already held in memory.
type sliceReader struct {
	samples []int32
	pos     int
}

func (r *sliceReader) ReadSamples(dst []int32) (int, error) {
	if r.pos >= len(r.samples) {
		return 0, io.EOF
	}
	n := copy(dst, r.samples[r.pos:])
	r.pos += n
	return n, nil
}

// hashAudio hashes float samples in [-1, 1] the way the server hashes a
// 16-bit recording.
// Returns: {error: number, data: array | string}
func hashAudio(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS := args[0]
	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float32Array")
	}
	if args[1].Type() != js.TypeNumber || args[2].Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate and channels must be numbers")
	}

	sampleRate := args[1].Int()
	channels := args[2].Int()
	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if channels < 1 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid channel count: %d", channels))
	}

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	// First channel only, matching the file pipeline.
	samples := make([]int32, 0, length/channels)
	for i := 0; i < length; i += channels {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		samples = append(samples, toInt16(val.Float()))
	}

	ext, err := fingerprint.NewExtractor(fingerprint.DefaultConfig())
	if err != nil {
		return makeErrorResponse(ErrorProcessing, err.Error())
	}
	if ext.Config().Windows(len(samples)) == 0 {
		return makeErrorResponse(ErrorTooShort, fmt.Sprintf("Need at least %d samples per channel", ext.Config().WindowLength))
	}

	hashes, err := ext.Extract(context.Background(), &sliceReader{samples: samples}, len(samples), nil)
	if err != nil {
		return makeErrorResponse(ErrorProcessing, fmt.Sprintf("Failed to hash audio: %v", err))
	}

	hashArray := js.Global().Get("Array").New(len(hashes))
	for i, h := range hashes {
		hashArray.SetIndex(i, h)
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", hashArray)
	return result
}

// matchHashes aligns two hash arrays produced by acousticsyncHash.
// Returns: {error: number, data: {offset, matches} | string}
func matchHashes(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 2 arguments: masterHashes, clipHashes")
	}

	master, err := toHashes(args[0])
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, "masterHashes: "+err.Error())
	}
	clip, err := toHashes(args[1])
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, "clipHashes: "+err.Error())
	}

	// The browser runs a single thread.
	res, err := matcher.Match(context.Background(), master, clip, matcher.WithWorkers(1))
	if err != nil {
		return makeErrorResponse(ErrorMatchFailed, err.Error())
	}

	data := js.Global().Get("Object").New()
	data.Set("offset", res.Offset)
	data.Set("matches", res.Matches)

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

func toHashes(v js.Value) ([]uint32, error) {
	if v.Type() != js.TypeObject {
		return nil, fmt.Errorf("expected an array")
	}
	out := make([]uint32, v.Length())
	for i := range out {
		e := v.Index(i)
		if e.Type() != js.TypeNumber {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = uint32(e.Float())
	}
	return out, nil
}

func toInt16(f float64) int32 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	return int32(f * 32767)
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	if !console.IsUndefined() {
		console.Call("log", "🔧 AcousticSync WASM module initializing...")
	}

	done := make(chan struct{})

	js.Global().Set("acousticsyncHash", js.FuncOf(hashAudio))
	js.Global().Set("acousticsyncMatch", js.FuncOf(matchHashes))

	if !console.IsUndefined() {
		console.Call("log", "📝 acousticsyncHash and acousticsyncMatch registered")
	}

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		eventInit := js.Global().Get("Object").New()
		event := js.Global().Get("CustomEvent").New("wasmReady", eventInit)
		window.Call("dispatchEvent", event)
		if !console.IsUndefined() {
			console.Call("log", "✅ wasmReady event dispatched")
		}
	} else if !console.IsUndefined() {
		console.Call("error", "❌ window object is undefined!")
	}

	<-done
}
