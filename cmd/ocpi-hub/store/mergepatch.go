// Copyright 2024 eMobility Hub GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

// MergeJSON applies an RFC 7386 merge patch to a decoded JSON tree and
// returns the merged tree. It is content-agnostic: it knows nothing about
// OCPI schemas, typed re-validation happens one layer up.
//
// Semantics: a key present in the patch overwrites the same key in the
// target, a key mapped to JSON null deletes it, objects merge recursively,
// arrays and scalars replace wholesale. No element-wise array diffing.
func MergeJSON(target interface{}, patch interface{}) interface{} {
	patchObj, ok := patch.(map[string]interface{})
	if !ok {
		// A non-object patch replaces the target entirely.
		return patch
	}

	targetObj, ok := target.(map[string]interface{})
	if !ok {
		targetObj = map[string]interface{}{}
	}

	merged := make(map[string]interface{}, len(targetObj)+len(patchObj))
	for k, v := range targetObj {
		merged[k] = v
	}
	for k, v := range patchObj {
		if v == nil {
			delete(merged, k)
			continue
		}
		if _, isObj := v.(map[string]interface{}); isObj {
			merged[k] = MergeJSON(merged[k], v)
			continue
		}
		merged[k] = v
	}
	return merged
}
