// Package jsonschema provides JSON Schema compatibility checking.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/axonops/kafka-schema-registry/internal/compatibility"
)

// Checker implements compatibility.SchemaChecker for JSON Schema. The
// reader is the schema validating data the writer's schema allowed.
type Checker struct{}

func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) Check(reader, writer compatibility.SchemaWithRefs) *compatibility.Result {
	var readerMap, writerMap map[string]interface{}
	if err := json.Unmarshal([]byte(reader.Schema), &readerMap); err != nil {
		return compatibility.Incompatible("failed to parse reader schema: " + err.Error())
	}
	if err := json.Unmarshal([]byte(writer.Schema), &writerMap); err != nil {
		return compatibility.Incompatible("failed to parse writer schema: " + err.Error())
	}

	result := compatibility.Compatible()
	c.compare(readerMap, writerMap, "", result)
	return result
}

func (c *Checker) compare(reader, writer map[string]interface{}, path string, result *compatibility.Result) {
	if !typesCover(reader["type"], writer["type"]) {
		result.Fail("type changed at %s from '%v' to '%v'", at(path), writer["type"], reader["type"])
	}

	switch t, _ := reader["type"].(string); t {
	case "object":
		c.compareObjects(reader, writer, path, result)
	case "array":
		c.compareArrays(reader, writer, path, result)
	}

	c.compareEnums(reader, writer, path, result)
	c.compareAdditionalProperties(reader, writer, path, result)
}

func (c *Checker) compareObjects(reader, writer map[string]interface{}, path string, result *compatibility.Result) {
	readerProps := properties(reader)
	writerProps := properties(writer)
	readerRequired := requiredSet(reader)
	writerRequired := requiredSet(writer)

	for name := range writerProps {
		if _, exists := readerProps[name]; !exists {
			result.Fail("property '%s' was removed", join(path, name))
		}
	}

	for name := range readerProps {
		_, existedBefore := writerProps[name]
		switch {
		case !existedBefore && readerRequired[name]:
			result.Fail("new required property '%s' was added", join(path, name))
		case existedBefore && !writerRequired[name] && readerRequired[name]:
			result.Fail("property '%s' changed from optional to required", join(path, name))
		}
	}

	for name, rp := range readerProps {
		wp, exists := writerProps[name]
		if !exists {
			continue
		}
		rpMap, rok := rp.(map[string]interface{})
		wpMap, wok := wp.(map[string]interface{})
		if rok && wok {
			c.compare(rpMap, wpMap, join(path, name), result)
		}
	}
}

func (c *Checker) compareArrays(reader, writer map[string]interface{}, path string, result *compatibility.Result) {
	readerItems, _ := reader["items"].(map[string]interface{})
	writerItems, _ := writer["items"].(map[string]interface{})

	switch {
	case readerItems != nil && writerItems != nil:
		c.compare(readerItems, writerItems, join(path, "items"), result)
	case writerItems != nil && readerItems == nil:
		result.Fail("array items schema removed at '%s'", at(path))
	}

	c.compareBound(reader, writer, "minItems", path, result, true)
	c.compareBound(reader, writer, "maxItems", path, result, false)
}

func (c *Checker) compareEnums(reader, writer map[string]interface{}, path string, result *compatibility.Result) {
	writerEnum, _ := writer["enum"].([]interface{})
	if writerEnum == nil {
		return
	}
	readerEnum, _ := reader["enum"].([]interface{})
	if readerEnum == nil {
		// Enum constraint dropped: less restrictive.
		return
	}
	allowed := make(map[string]bool, len(readerEnum))
	for _, v := range readerEnum {
		allowed[fmt.Sprintf("%v", v)] = true
	}
	for _, v := range writerEnum {
		if !allowed[fmt.Sprintf("%v", v)] {
			result.Fail("enum value '%v' was removed at '%s'", v, at(path))
		}
	}
}

func (c *Checker) compareAdditionalProperties(reader, writer map[string]interface{}, path string, result *compatibility.Result) {
	readerAP, readerHas := reader["additionalProperties"]
	writerAP, writerHas := writer["additionalProperties"]

	if (!writerHas || writerAP == true) && readerHas && readerAP == false {
		result.Fail("additionalProperties changed from allowed to forbidden at '%s'", at(path))
	}

	rpMap, rok := readerAP.(map[string]interface{})
	wpMap, wok := writerAP.(map[string]interface{})
	if rok && wok {
		c.compare(rpMap, wpMap, join(path, "additionalProperties"), result)
	}
}

// compareBound flags a tightened numeric constraint.
func (c *Checker) compareBound(reader, writer map[string]interface{}, name, path string, result *compatibility.Result, isLower bool) {
	readerVal, readerHas := reader[name]
	writerVal, writerHas := writer[name]
	if !readerHas {
		return
	}
	readerNum := asFloat(readerVal)
	writerNum := asFloat(writerVal)
	tightened := !writerHas ||
		(isLower && readerNum > writerNum) ||
		(!isLower && readerNum < writerNum)
	if tightened {
		result.Fail("'%s' constraint tightened at '%s' (was %v, now %v)", name, at(path), writerVal, readerVal)
	}
}

// typesCover reports whether the reader's type set covers the writer's:
// every type the writer allowed must still be allowed.
func typesCover(readerType, writerType interface{}) bool {
	if writerType == nil || readerType == nil {
		return true
	}
	readerTypes := typeList(readerType)
	for _, wt := range typeList(writerType) {
		found := false
		for _, rt := range readerTypes {
			if rt == wt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func typeList(t interface{}) []string {
	switch val := t.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		sort.Strings(out)
		return out
	}
	return nil
}

func properties(schema map[string]interface{}) map[string]interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		return props
	}
	return map[string]interface{}{}
}

func requiredSet(schema map[string]interface{}) map[string]bool {
	out := make(map[string]bool)
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func asFloat(v interface{}) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func at(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func join(path, segment string) string {
	if path == "" {
		return segment
	}
	return path + "." + segment
}

var _ compatibility.SchemaChecker = (*Checker)(nil)
