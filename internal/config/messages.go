package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Messages holds every fixed reply the gateway can send. Deployments change
// the copy by pointing general.messagesFile at a YAML file; fields missing
// from the file keep their defaults.
type Messages struct {
	Welcome            string `yaml:"welcome"`
	ProfileSaved       string `yaml:"profile_saved"`
	FormatInstruction  string `yaml:"format_instruction"`
	ProfileError       string `yaml:"profile_error"`
	AudioNotUnderstood string `yaml:"audio_not_understood"`
	VoiceNotUnderstood string `yaml:"voice_not_understood"`
	Unsupported        string `yaml:"unsupported"`
	GenerationError    string `yaml:"generation_error"`
	GenericError       string `yaml:"generic_error"`
	ProjectiveError    string `yaml:"projective_error"`
	ReportError        string `yaml:"report_error"`
}

// DefaultMessages returns the built-in Spanish copy.
func DefaultMessages() Messages {
	return Messages{
		Welcome: `Te doy la bienvenida a Aina, tu ecosistema clínico inteligente. Con herramientas éticas, dinámicas y especializadas, potenciamos tu análisis, optimizamos tu tiempo y fortalecemos tu impacto terapéutico en cada etapa del proceso clínico.

Para personalizar mis intervenciones, necesito que me proporciones:

1. Tu nombre completo
2. Tu especialidad profesional (Clínica, Educativa, Laboral, Jurídica)
3. Tu orientación terapéutica (TCC, ACT, Psicodinámica, Sistémica, Humanista, Integrativa)

Ejemplo: "Soy María González, especialidad Clínica, orientación TCC"

Una vez que me proporciones esta información, podré adaptar todas mis respuestas a tu perfil profesional y estilo de trabajo.`,
		ProfileSaved:       "Información guardada correctamente. A partir de ahora, todas mis respuestas estarán adaptadas a tu perfil profesional.",
		FormatInstruction:  `Por favor, proporciona la información en el formato: "Soy [Nombre], especialidad [Clínica/Educativa/Laboral/Jurídica], orientación [TCC/ACT/Psicodinámica/Sistémica/Humanista/Integrativa]"`,
		ProfileError:       "Error procesando la información. Por favor, intenta de nuevo.",
		AudioNotUnderstood: "No pude entender el audio. Por favor, intenta grabar de nuevo o envía un mensaje de texto.",
		VoiceNotUnderstood: "No pude entender la nota de voz. Por favor, intenta grabar de nuevo o envía un mensaje de texto.",
		Unsupported:        "Lo siento, solo puedo procesar mensajes de texto y notas de voz por el momento.",
		GenerationError:    "Lo siento, hubo un error generando la respuesta. Por favor, intenta de nuevo.",
		GenericError:       "Lo siento, hubo un error procesando tu mensaje. Por favor, intenta de nuevo.",
		ProjectiveError:    "Error analizando la técnica proyectiva. Por favor, intenta de nuevo.",
		ReportError:        "Error generando el informe clínico. Por favor, intenta de nuevo.",
	}
}

// LoadMessages returns the default copy overlaid with the YAML file at path.
// An empty path returns the defaults.
func LoadMessages(path string) (Messages, error) {
	msgs := DefaultMessages()
	if path == "" {
		return msgs, nil
	}
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return msgs, fmt.Errorf("read messages file %s: %w", path, err)
	}
	// Unmarshalling into the populated struct keeps defaults for absent keys.
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return DefaultMessages(), fmt.Errorf("parse messages file %s: %w", path, err)
	}
	return msgs, nil
}
