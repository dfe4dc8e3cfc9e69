package domain

import "encoding/json"

func marshalCodes(codes []string) ([]byte, error) {
	if codes == nil {
		codes = []string{}
	}
	return json.Marshal(codes)
}
