package scenario

import "fmt"

// NumSignatureTypes is the number of spatial signature archetypes.
const NumSignatureTypes = 16

var signatureNames = [NumSignatureTypes]string{
	"Wild countryside",
	"Countryside agriculture",
	"Urban buffer",
	"Warehouse/Park land",
	"Open sprawl",
	"Disconnected suburbia",
	"Accessible suburbia",
	"Connected residential neighbourhoods",
	"Dense residential neighbourhoods",
	"Gridded residential quarters",
	"Dense urban neighbourhoods",
	"Local urbanity",
	"Regional urbanity",
	"Metropolitan urbanity",
	"Concentrated urbanity",
	"Hyper concentrated urbanity",
}

// SignatureName returns the label of a signature type.
func SignatureName(signatureType int) string {
	if signatureType < 0 || signatureType >= NumSignatureTypes {
		return fmt.Sprintf("unknown signature %d", signatureType)
	}
	return signatureNames[signatureType]
}

// ValidSignature reports whether signatureType is one of the known archetypes.
func ValidSignature(signatureType int) bool {
	return signatureType >= 0 && signatureType < NumSignatureTypes
}
