package ocr

// TesseractOptions configures the tesseract engine. Language accepts
// tesseract's "eng+deu" form.
type TesseractOptions struct {
	Language      string
	MinConfidence float32
}
