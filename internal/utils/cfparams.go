package utils

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// MergeParameters merges multiple parameter maps with later maps taking
// precedence, and returns the result as a CloudFormation parameter list
// sorted by key.
func MergeParameters(pp ...map[string]string) []types.Parameter {
	m := map[string]string{}
	for _, p := range pp {
		maps.Copy(m, p)
	}

	var results []types.Parameter
	for _, k := range slices.Sorted(maps.Keys(m)) {
		results = append(results, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(m[k]),
		})
	}

	return results
}
