package wire

import "encoding/json"

// unmarshalJSONString is a small helper shared by the custom
// UnmarshalJSON implementations in this package.
func unmarshalJSONString(data []byte, out *string) error {
	return json.Unmarshal(data, out)
}
