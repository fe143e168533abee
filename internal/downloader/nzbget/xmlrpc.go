package nzbget

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

const xmlValueTag = "value"

// value is a typed XML-RPC parameter.
type value struct {
	Type  string // "string", "int", "boolean", "base64"
	Value string
}

func str(s string) value { return value{Type: "string", Value: s} }

func integer(n int) value { return value{Type: "int", Value: strconv.Itoa(n)} }

func boolean(b bool) value {
	if b {
		return value{Type: "boolean", Value: "1"}
	}
	return value{Type: "boolean", Value: "0"}
}

func buildRequest(method string, params []value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>`)
	buf.WriteString(`<methodCall><methodName>`)
	if err := xml.EscapeText(&buf, []byte(method)); err != nil {
		return nil, err
	}
	buf.WriteString(`</methodName>`)

	if len(params) > 0 {
		buf.WriteString(`<params>`)
		for _, p := range params {
			buf.WriteString(`<param><value>`)
			switch p.Type {
			case "base64", "int", "boolean":
				fmt.Fprintf(&buf, "<%s>%s</%s>", p.Type, p.Value, p.Type)
			default:
				buf.WriteString(`<string>`)
				if err := xml.EscapeText(&buf, []byte(p.Value)); err != nil {
					return nil, err
				}
				buf.WriteString(`</string>`)
			}
			buf.WriteString(`</value></param>`)
		}
		buf.WriteString(`</params>`)
	}

	buf.WriteString(`</methodCall>`)
	return buf.Bytes(), nil
}

type methodResponse struct {
	Params *struct {
		Param []struct {
			Value rawValue `xml:"value"`
		} `xml:"param"`
	} `xml:"params"`
	Fault *struct {
		Value rawValue `xml:"value"`
	} `xml:"fault"`
}

type rawValue struct {
	Inner []byte `xml:",innerxml"`
}

// Fault is an XML-RPC fault returned by the server.
type Fault struct {
	Code    int64
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("XML-RPC fault %d: %s", f.Code, f.Message)
}

func parseResponse(data []byte) (any, error) {
	var resp methodResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse XML-RPC response: %w", err)
	}

	if resp.Fault != nil {
		val, _ := parseValue(resp.Fault.Value.Inner)
		m, _ := val.(map[string]any)
		return nil, &Fault{Code: asInt64(m["faultCode"]), Message: asString(m["faultString"])}
	}

	if resp.Params == nil || len(resp.Params.Param) == 0 {
		return "", nil
	}
	return parseValue(resp.Params.Param[0].Value.Inner)
}

func parseValue(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}
	if trimmed[0] != '<' {
		return string(trimmed), nil
	}
	return decodeValue(xml.NewDecoder(bytes.NewReader(trimmed)))
}

func decodeValue(decoder *xml.Decoder) (any, error) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return "", err
		}

		switch t := token.(type) {
		case xml.StartElement:
			return decodeTyped(decoder, t.Name.Local)
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				return s, nil
			}
		case xml.EndElement:
			return emptyValue{}, nil
		}
	}
}

func decodeTyped(decoder *xml.Decoder, typeName string) (any, error) {
	switch typeName {
	case "int", "i4", "i8":
		s, err := decodeText(decoder, typeName)
		n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return n, err
	case "double":
		s, err := decodeText(decoder, typeName)
		f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err
	case "boolean":
		s, err := decodeText(decoder, typeName)
		return strings.TrimSpace(s) == "1", err
	case "array":
		return decodeArray(decoder)
	case "struct":
		return decodeStruct(decoder)
	default:
		return decodeText(decoder, typeName)
	}
}

func decodeText(decoder *xml.Decoder, endTag string) (string, error) {
	var content strings.Builder
	for {
		token, err := decoder.Token()
		if err != nil {
			return content.String(), err
		}
		switch t := token.(type) {
		case xml.CharData:
			content.Write(t)
		case xml.EndElement:
			if t.Name.Local == endTag {
				return content.String(), nil
			}
		}
	}
}

func decodeArray(decoder *xml.Decoder) ([]any, error) {
	items := []any{}
	for {
		token, err := decoder.Token()
		if err != nil {
			return items, err
		}

		if end, ok := token.(xml.EndElement); ok {
			if end.Name.Local == "array" || end.Name.Local == "data" {
				return items, nil
			}
			continue
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != xmlValueTag {
			continue
		}

		val, err := decodeValue(decoder)
		if err != nil {
			return items, err
		}
		if isEmpty(val) {
			val = ""
		} else {
			consumeEnd(decoder, xmlValueTag)
		}
		items = append(items, val)
	}
}

func decodeStruct(decoder *xml.Decoder) (map[string]any, error) {
	result := make(map[string]any)
	for {
		token, err := decoder.Token()
		if err != nil {
			return result, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "member" {
				name, val := decodeMember(decoder)
				if name != "" {
					result[name] = val
				}
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				return result, nil
			}
		}
	}
}

func decodeMember(decoder *xml.Decoder) (name string, val any) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return name, val
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				name, _ = decodeText(decoder, "name")
			case xmlValueTag:
				val, _ = decodeValue(decoder)
				if isEmpty(val) {
					val = ""
				} else {
					consumeEnd(decoder, xmlValueTag)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "member" {
				return name, val
			}
		}
	}
}

// emptyValue marks a <value></value> whose end tag decodeValue already read.
type emptyValue struct{}

func isEmpty(v any) bool {
	_, ok := v.(emptyValue)
	return ok
}

func consumeEnd(decoder *xml.Decoder, name string) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return
		}
		if end, ok := token.(xml.EndElement); ok && end.Name.Local == name {
			return
		}
	}
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f
	default:
		return 0
	}
}
