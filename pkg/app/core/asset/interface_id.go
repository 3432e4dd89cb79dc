package asset

import (
	"golang.org/x/crypto/sha3"
)

// InterfaceID is an ERC-165 interface identifier.
type InterfaceID [4]byte

// Selector returns the 4-byte function selector of a canonical signature
// such as "ownerOf(uint256)".
func Selector(signature string) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var out [4]byte
	copy(out[:], h.Sum(nil)[:4])
	return out
}

// ComputeInterfaceID XORs the selectors of every function in an interface.
func ComputeInterfaceID(signatures ...string) InterfaceID {
	var id InterfaceID
	for _, sig := range signatures {
		sel := Selector(sig)
		for i := range id {
			id[i] ^= sel[i]
		}
	}
	return id
}

var (
	// ERC165InterfaceID is 0x01ffc9a7.
	ERC165InterfaceID = ComputeInterfaceID("supportsInterface(bytes4)")

	// ERC721InterfaceID is 0x80ac58cd, the ownership-transfer capability
	// that marks an asset as Unique.
	ERC721InterfaceID = ComputeInterfaceID(
		"balanceOf(address)",
		"ownerOf(uint256)",
		"safeTransferFrom(address,address,uint256,bytes)",
		"safeTransferFrom(address,address,uint256)",
		"transferFrom(address,address,uint256)",
		"approve(address,uint256)",
		"setApprovalForAll(address,bool)",
		"getApproved(uint256)",
		"isApprovedForAll(address,address)",
	)
)
