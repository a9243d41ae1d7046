package interpolation

import (
	"errors"
	"fmt"
	"reflect"
)

// Tag marks string fields, string slices and string maps whose values are expanded.
// Nested structs and struct pointers are walked whether or not they carry the tag.
const Tag = "env_interpolation"

// InterpolateStruct expands environment references in place on the tagged fields of the struct
// pointed to by v. Errors from every field are joined.
func InterpolateStruct(v any) error {
	if v == nil {
		return nil
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	if val.IsNil() {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	return walkStruct(val, "")
}

func walkStruct(val reflect.Value, prefix string) error {
	typ := val.Type()
	var errs []error

	for i := range val.NumField() {
		field := val.Field(i)
		sf := typ.Field(i)
		if !field.CanSet() {
			continue
		}
		name := prefix + sf.Name
		tagged := sf.Tag.Get(Tag) == "yes"

		switch field.Kind() {
		case reflect.String:
			if tagged {
				errs = append(errs, expandValue(field, name))
			}
		case reflect.Slice:
			if !tagged || field.Type().Elem().Kind() != reflect.String {
				continue
			}
			for j := range field.Len() {
				errs = append(errs, expandValue(field.Index(j), fmt.Sprintf("%s[%d]", name, j)))
			}
		case reflect.Map:
			if !tagged || field.IsNil() ||
				field.Type().Key().Kind() != reflect.String ||
				field.Type().Elem().Kind() != reflect.String {
				continue
			}
			iter := field.MapRange()
			for iter.Next() {
				out, err := ExpandEnvVars(iter.Value().String())
				if err != nil {
					errs = append(errs, fmt.Errorf("%s[%s]: %w", name, iter.Key().String(), err))
					continue
				}
				field.SetMapIndex(iter.Key(), reflect.ValueOf(out).Convert(field.Type().Elem()))
			}
		case reflect.Struct:
			errs = append(errs, walkStruct(field, name+"."))
		case reflect.Pointer:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				errs = append(errs, walkStruct(field.Elem(), name+"."))
			}
		}
	}
	return errors.Join(errs...)
}

func expandValue(v reflect.Value, name string) error {
	if v.String() == "" {
		return nil
	}
	out, err := ExpandEnvVars(v.String())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	v.SetString(out)
	return nil
}
