package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestLayoutString(t *testing.T) {
	tests := []struct {
		layout Layout
		want   string
	}{
		{LayoutUndefined, "Undefined"},
		{LayoutGeneral, "General"},
		{LayoutTransferSrc, "TransferSrc"},
		{LayoutTransferDst, "TransferDst"},
		{LayoutShaderReadOnly, "ShaderReadOnly"},
		{Layout(42), "Layout(42)"},
	}
	for _, tt := range tests {
		if got := tt.layout.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.layout), got, tt.want)
		}
	}
}

func TestLayoutSyncTable(t *testing.T) {
	if len(layoutSync) != 5 {
		t.Fatalf("layoutSync covers %d layouts, want 5", len(layoutSync))
	}

	// Undefined carries no access; leaving it discards contents.
	if layoutSync[LayoutUndefined].access != 0 {
		t.Error("Undefined must have an empty access mask")
	}
	if layoutSync[LayoutUndefined].layout != vk.ImageLayoutUndefined {
		t.Error("Undefined maps to the wrong Vulkan layout")
	}

	// General is the storage image state: compute stage, read and write.
	g := layoutSync[LayoutGeneral]
	if g.layout != vk.ImageLayoutGeneral {
		t.Error("General maps to the wrong Vulkan layout")
	}
	if g.access&vk.AccessFlags(vk.AccessShaderWriteBit) == 0 ||
		g.access&vk.AccessFlags(vk.AccessShaderReadBit) == 0 {
		t.Error("General must allow shader read and write")
	}
	if g.stage != vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit) {
		t.Error("General must sync at the compute stage")
	}

	// Transfer states pair the transfer stage with one-directional access.
	src := layoutSync[LayoutTransferSrc]
	dst := layoutSync[LayoutTransferDst]
	if src.access != vk.AccessFlags(vk.AccessTransferReadBit) ||
		dst.access != vk.AccessFlags(vk.AccessTransferWriteBit) {
		t.Error("transfer layouts must use transfer read/write access")
	}
	if src.stage != vk.PipelineStageFlags(vk.PipelineStageTransferBit) ||
		dst.stage != vk.PipelineStageFlags(vk.PipelineStageTransferBit) {
		t.Error("transfer layouts must sync at the transfer stage")
	}

	// Sampled reads happen from compute only.
	ro := layoutSync[LayoutShaderReadOnly]
	if ro.layout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Error("ShaderReadOnly maps to the wrong Vulkan layout")
	}
	if ro.access != vk.AccessFlags(vk.AccessShaderReadBit) {
		t.Error("ShaderReadOnly must be read-only access")
	}
}
