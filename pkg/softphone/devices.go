package softphone

import "context"

// DeviceKind вид аудио устройства
type DeviceKind string

const (
	DeviceAudioInput  DeviceKind = "audioinput"
	DeviceAudioOutput DeviceKind = "audiooutput"
)

// Device одно обнаруженное устройство
type Device struct {
	Kind  DeviceKind
	Label string
}

// DeviceEnumerator асинхронное перечисление аудио устройств.
// Результат кэшируется менеджером линий и не перезапрашивается на каждый вызов.
type DeviceEnumerator interface {
	Enumerate(ctx context.Context) ([]Device, error)
}

// StaticDevices фиксированный список устройств.
// Используется в окружениях без реального перечисления (cmd, тесты).
type StaticDevices []Device

// Enumerate возвращает список как есть
func (d StaticDevices) Enumerate(context.Context) ([]Device, error) {
	return d, nil
}

// DefaultDevices пара устройств по умолчанию: вход и выход
func DefaultDevices() StaticDevices {
	return StaticDevices{
		{Kind: DeviceAudioInput, Label: "default"},
		{Kind: DeviceAudioOutput, Label: "default"},
	}
}
