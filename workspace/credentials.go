package workspace

import "encoding/json"

func encodeCredentials(keys map[string]string) ([]byte, error) {
	return json.Marshal(keys)
}

func decodeCredentials(data []byte, into map[string]string) error {
	return json.Unmarshal(data, &into)
}
