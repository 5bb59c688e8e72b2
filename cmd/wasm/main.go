//go:build js && wasm
// +build js,wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/MeKo-Tech/colordeconv/assets"
	"github.com/MeKo-Tech/colordeconv/internal/deconv"
	"github.com/MeKo-Tech/colordeconv/internal/preset"
	"github.com/MeKo-Tech/colordeconv/internal/render"
	"github.com/MeKo-Tech/colordeconv/internal/stain"
)

var registry preset.Registry

// separate is called from JavaScript as
// colordeconvSeparate(rgba Uint8ClampedArray, width, height, stain) and
// returns {stains: [Uint8Array x3], previews: [Uint8ClampedArray x3]} or
// {error}. Alpha is ignored. Previews are RGBA, ready for ImageData.
func separate(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return errorResult("expected rgba, width, height, stain")
	}

	width, height := args[1].Int(), args[2].Int()
	n := width * height
	if width < 2 || height < 2 || args[0].Length() != n*4 {
		return errorResult(fmt.Sprintf("rgba buffer of %d bytes does not match %dx%d", args[0].Length(), width, height))
	}

	rgba := make([]byte, n*4)
	js.CopyBytesToGo(rgba, args[0])

	var planes [3][]uint8
	for c := range planes {
		planes[c] = make([]uint8, n)
	}
	for i := 0; i < n; i++ {
		planes[0][i] = rgba[i*4]
		planes[1][i] = rgba[i*4+1]
		planes[2][i] = rgba[i*4+2]
	}

	img, err := deconv.NewImage8(width, height, planes[0], planes[1], planes[2])
	if err != nil {
		return errorResult(err.Error())
	}

	set, err := preset.Resolve(registry, args[3].String())
	if err != nil {
		return errorResult(err.Error())
	}
	basis, err := stain.Complete(set)
	if err != nil {
		return errorResult(err.Error())
	}
	m, err := basis.Invert()
	if err != nil {
		return errorResult(err.Error())
	}

	sep, err := deconv.Apply(m, img)
	if err != nil {
		return errorResult(err.Error())
	}

	stains := make([]interface{}, 3)
	previews := make([]interface{}, 3)
	for k := range sep.Stains {
		gray := sep.Gray(k)
		arr := js.Global().Get("Uint8Array").New(len(gray.Pix))
		js.CopyBytesToJS(arr, gray.Pix)
		stains[k] = arr

		lut := render.Preview(sep, k, basis[k])
		parr := js.Global().Get("Uint8ClampedArray").New(len(lut.Pix))
		js.CopyBytesToJS(parr, lut.Pix)
		previews[k] = parr
	}

	return map[string]interface{}{
		"stains":   stains,
		"previews": previews,
	}
}

// presets returns the known stain names.
func presets(this js.Value, args []js.Value) interface{} {
	names := registry.Names()
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

func errorResult(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}

func main() {
	c := make(chan struct{})

	extras, err := preset.ParseCatalog(assets.StainCatalog)
	if err != nil {
		fmt.Println("colordeconv: embedded stain catalog:", err)
		extras = preset.Map{}
	}
	registry = preset.Chain(preset.Builtin(), extras)

	js.Global().Set("colordeconvSeparate", js.FuncOf(separate))
	js.Global().Set("colordeconvPresets", js.FuncOf(presets))

	fmt.Println("colordeconv WASM module loaded")
	<-c
}
