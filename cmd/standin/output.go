package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func writeYAML(payload any) error {
	data, err := yaml.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}
